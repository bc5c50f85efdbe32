package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenhq/keen/internal/git"
	"github.com/keenhq/keen/internal/signals"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/pkg/models"
)

// fakeRepo tracks the checked-out branch and records commits and merges.
type fakeRepo struct {
	mu         sync.Mutex
	current    string
	branches   map[string]bool
	commits    map[string][]string
	merges     []string
	failMerge  map[string]error
	failCommit error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		current:   "main",
		branches:  map[string]bool{"main": true},
		commits:   make(map[string][]string),
		failMerge: make(map[string]error),
	}
}

func (f *fakeRepo) Checkout(_ context.Context, _, branch string, create bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.branches[branch] && !create {
		return fmt.Errorf("no branch %s", branch)
	}
	f.branches[branch] = true
	f.current = branch
	return nil
}

func (f *fakeRepo) Merge(_ context.Context, _, source, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failMerge[source]; err != nil {
		return err
	}
	f.merges = append(f.merges, source+"->"+f.current)
	return nil
}

func (f *fakeRepo) CommitFiles(_ context.Context, _ string, files map[string]string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit != nil {
		return f.failCommit
	}
	for p := range files {
		f.commits[f.current] = append(f.commits[f.current], p)
	}
	return nil
}

// fakeSignals hands out cancellation requests once cond holds.
type fakeSignals struct {
	mu      sync.Mutex
	pending []signals.Signal
	cond    func() bool
}

func (f *fakeSignals) Wait(_ context.Context, d time.Duration) bool {
	if f.ready() {
		return true
	}
	time.Sleep(d)
	return f.ready()
}

func (f *fakeSignals) ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) > 0 && (f.cond == nil || f.cond())
}

func (f *fakeSignals) Drain() []signals.Signal {
	if !f.ready() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

func mustParse(t *testing.T, doc string) *Plan {
	t.Helper()
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func TestRunner_RunsPlanDepthFirst(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	var events []Event
	r := NewRunner(coord, repo, "/repo", WithEvents(func(e Event) { events = append(events, e) }))

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "root", report.RootID)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Cancelled)
	assert.Equal(t, 2, report.MaxDepth)
	assert.Empty(t, report.MergeFailures)

	status := coord.GetTreeStatus()
	assert.Equal(t, []string{"root", "api", "api-tests", "ui"}, status.ExecutionOrder)
	assert.Equal(t, "keen/agent-1", status.Nodes["api"].GitBranch)
	assert.Equal(t, "keen/agent-1-1", status.Nodes["api-tests"].GitBranch)
	assert.Equal(t, "keen/agent-2", status.Nodes["ui"].GitBranch)
	assert.Equal(t, models.PhaseComplete, status.Nodes["ui"].Phase)
	assert.Equal(t, models.NodeFailed, status.Nodes["api-tests"].Status)
	assert.Equal(t, "flaky fixture", status.Nodes["api-tests"].Result.Error)

	assert.Equal(t, []string{
		"keen/agent-1-1->keen/agent-1",
		"keen/agent-1->main",
		"keen/agent-2->main",
	}, repo.merges)
	assert.Equal(t, []string{"README.md"}, repo.commits["main"])
	assert.Equal(t, []string{"api/server.go"}, repo.commits["keen/agent-1"])
	assert.Equal(t, "main", repo.current)

	var spawned []string
	for _, e := range events {
		if e.Kind == EventSpawned {
			spawned = append(spawned, e.SessionID)
		}
	}
	assert.Equal(t, []string{"root", "api", "api-tests", "ui"}, spawned)
}

func TestRunner_GeneratesMissingIDs(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	r := NewRunner(coord, repo, "/repo", WithIDGenerator(sequentialIDs()))

	report, err := r.Run(context.Background(), mustParse(t, "root:\n  children:\n    - vision: a\n    - vision: b\n"))
	require.NoError(t, err)
	assert.Equal(t, "gen-1", report.RootID)
	assert.Equal(t, []string{"gen-1", "gen-2", "gen-3"}, coord.GetTreeStatus().ExecutionOrder)
}

func TestRunner_MergeFailureIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.failMerge["keen/agent-1"] = &git.ConflictError{Branch: "keen/agent-1", Files: []string{"api/server.go"}}
	coord := tree.New(repo)
	r := NewRunner(coord, repo, "/repo")

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	require.NoError(t, err)

	require.Len(t, report.MergeFailures, 1)
	mf := report.MergeFailures[0]
	assert.Equal(t, "api", mf.ChildID)
	assert.Equal(t, "keen/agent-1", mf.Branch)
	assert.Equal(t, "main", mf.Into)
	assert.Equal(t, []string{"api/server.go"}, mf.Conflicts)

	// The run continues with the next sibling.
	node, ok := coord.GetNode("ui")
	require.True(t, ok)
	assert.Equal(t, models.NodeCompleted, node.Status)
	assert.Equal(t, models.NodeCompleted, coord.GetTreeStatus().Nodes["api"].Status)
}

func TestRunner_CommitFailureFailsAgent(t *testing.T) {
	repo := newFakeRepo()
	repo.failCommit = errors.New("disk full")
	coord := tree.New(repo)
	r := NewRunner(coord, repo, "/repo")

	report, err := r.Run(context.Background(), mustParse(t, "root:\n  id: r\n  files:\n    a.txt: x\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	node, _ := coord.GetNode("r")
	require.NotNil(t, node.Result)
	assert.Contains(t, node.Result.Error, "disk full")
}

func TestRunner_BranchCreationFailureAborts(t *testing.T) {
	repo := newFakeRepo()
	vcs := &failingCreate{fakeRepo: repo, branch: "keen/agent-2"}
	coord := tree.New(vcs)
	r := NewRunner(coord, repo, "/repo")

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	var bce *tree.BranchCreationError
	require.ErrorAs(t, err, &bce)
	assert.Equal(t, "ui", bce.SessionID)

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Total)
	node, _ := coord.GetNode("root")
	assert.Equal(t, models.NodeCancelled, node.Status)
	_, ok := coord.GetNode("ui")
	assert.False(t, ok)
}

// failingCreate fails creation of one branch.
type failingCreate struct {
	*fakeRepo
	branch string
}

func (f *failingCreate) Checkout(ctx context.Context, dir, branch string, create bool) error {
	if create && branch == f.branch {
		return errors.New("ref locked")
	}
	return f.fakeRepo.Checkout(ctx, dir, branch, create)
}

func TestRunner_SignalCancelsSubtree(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	sig := &fakeSignals{
		pending: []signals.Signal{{SessionID: "api", Reason: "user request"}},
	}
	sig.cond = func() bool {
		n, ok := coord.GetNode("api")
		return ok && n.Phase == models.PhaseFound
	}
	r := NewRunner(coord, repo, "/repo", WithSignals(sig))

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 3, report.Total)
	api, _ := coord.GetNode("api")
	assert.Equal(t, models.NodeCancelled, api.Status)
	assert.Equal(t, "user request", api.Result.Error)
	_, spawned := coord.GetNode("api-tests")
	assert.False(t, spawned)

	ui, _ := coord.GetNode("ui")
	assert.Equal(t, models.NodeCompleted, ui.Status)
	assert.Equal(t, "keen/agent-2", ui.GitBranch)
	assert.NotContains(t, repo.merges, "keen/agent-1->main")
}

func TestRunner_SignalForUnknownSessionIsIgnored(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	sig := &fakeSignals{pending: []signals.Signal{{SessionID: "ghost"}}}
	var ignored []string
	r := NewRunner(coord, repo, "/repo", WithSignals(sig), WithEvents(func(e Event) {
		if e.Kind == EventSignalIgnored {
			ignored = append(ignored, e.SessionID)
		}
	}))

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, ignored)
	assert.Equal(t, 0, report.Cancelled)
}

func TestRunner_ContextCancellation(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(coord, repo, "/repo", WithEvents(func(e Event) {
		if e.Kind == EventSpawned && e.SessionID == "api" {
			cancel()
		}
	}))

	report, err := r.Run(ctx, mustParse(t, samplePlan))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Cancelled)
	assert.Equal(t, 0, coord.GetTreeStatus().Running())
	assert.Equal(t, "main", repo.current)
}

func TestRunner_DepthLimitSkipsChildren(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo, tree.WithMaxDepth(1))
	r := NewRunner(coord, repo, "/repo")

	report, err := r.Run(context.Background(), mustParse(t, samplePlan))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.MaxDepth)
}

func TestRunner_WorkWaitsWithoutSignals(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	r := NewRunner(coord, repo, "/repo")

	start := time.Now()
	_, err := r.Run(context.Background(), mustParse(t, "root:\n  work: 30ms\n"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunner_RejectsSecondRun(t *testing.T) {
	repo := newFakeRepo()
	coord := tree.New(repo)
	r := NewRunner(coord, repo, "/repo")

	_, err := r.Run(context.Background(), mustParse(t, "root:\n  id: r\n"))
	require.NoError(t, err)
	_, err = r.Run(context.Background(), mustParse(t, "root:\n  id: r2\n"))
	assert.ErrorIs(t, err, tree.ErrAlreadyInitialized)
}

func TestRunner_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
		return string(out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0644))
	run("add", ".")
	run("commit", "-m", "seed")

	adapter := git.NewAdapter(nil)
	coord := tree.New(adapter)
	r := NewRunner(coord, adapter, dir)

	report, err := r.Run(context.Background(), mustParse(t, `
root:
  id: root
children:
  - id: api
    files:
      api.txt: "api\n"
    children:
      - id: db
        files:
          db.txt: "db\n"
  - id: ui
    files:
      ui.txt: "ui\n"
`))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Completed)
	assert.Empty(t, report.MergeFailures)

	for _, f := range []string{"api.txt", "db.txt", "ui.txt"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
	branch, err := git.HeadBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}
