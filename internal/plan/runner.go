package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/signals"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/pkg/models"
)

// Workspace is the version-control surface agents write through.
type Workspace interface {
	Checkout(ctx context.Context, workDir, branch string, create bool) error
	CommitFiles(ctx context.Context, workDir string, files map[string]string, message string) error
}

// SignalSource delivers external cancellation requests.
type SignalSource interface {
	Wait(ctx context.Context, d time.Duration) bool
	Drain() []signals.Signal
}

// EventKind classifies a runner event.
type EventKind string

const (
	EventSpawned       EventKind = "spawned"
	EventPhase         EventKind = "phase"
	EventCommitted     EventKind = "committed"
	EventFinished      EventKind = "finished"
	EventMergeFailed   EventKind = "merge_failed"
	EventCancelled     EventKind = "cancelled"
	EventSkipped       EventKind = "skipped"
	EventSignalIgnored EventKind = "signal_ignored"
)

// Event is emitted as the runner drives the tree.
type Event struct {
	Kind      EventKind
	SessionID string
	Depth     int
	Branch    string
	Phase     models.Phase
	Status    models.NodeStatus
	Message   string
}

// MergeFailure records a child whose branch could not be merged.
type MergeFailure struct {
	ChildID   string   `json:"child_id"`
	Branch    string   `json:"branch"`
	Into      string   `json:"into"`
	Conflicts []string `json:"conflicts,omitempty"`
	Error     string   `json:"error"`
}

// Report summarizes a finished run.
type Report struct {
	RootID        string         `json:"root_id"`
	Total         int            `json:"total"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Cancelled     int            `json:"cancelled"`
	Skipped       int            `json:"skipped"`
	MaxDepth      int            `json:"max_depth"`
	MergeFailures []MergeFailure `json:"merge_failures,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSignals sets the source of cancellation requests.
func WithSignals(s SignalSource) RunnerOption {
	return func(r *Runner) {
		r.signals = s
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEvents registers a callback for runner events. It is called from the
// goroutine running the plan.
func WithEvents(fn func(Event)) RunnerOption {
	return func(r *Runner) {
		r.onEvent = fn
	}
}

// WithIDGenerator overrides how session IDs are generated for nodes that
// do not set one.
func WithIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Runner replays a Plan against a coordinator, one agent at a time.
type Runner struct {
	coord     *tree.Coordinator
	workspace Workspace
	repo      string
	signals   SignalSource
	logger    *zap.Logger
	onEvent   func(Event)
	newID     func() string

	report *Report
	// failed holds work failures keyed by session ID.
	failed map[string]string
}

// NewRunner creates a Runner that works in the repository at repo.
func NewRunner(coord *tree.Coordinator, ws Workspace, repo string, opts ...RunnerOption) *Runner {
	r := &Runner{
		coord:     coord,
		workspace: ws,
		repo:      repo,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errStopped unwinds the recursion once the node being run is no longer running.
var errStopped = errors.New("agent stopped")

// Run initializes the root from p.Root and runs the whole plan depth-first.
// Merge failures are recorded in the report and do not stop the run. A
// branch creation failure aborts the run. When ctx is cancelled the running
// agents are cancelled and ctx's error is returned with the partial report.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Report, error) {
	start := time.Now()
	r.report = &Report{}
	r.failed = make(map[string]string)

	rootID := p.Root.ID
	if rootID == "" {
		rootID = r.newID()
	}
	root, err := r.coord.InitializeRoot(ctx, rootID, p.Root.Specialization, r.repo)
	if err != nil {
		return nil, err
	}
	r.report.RootID = root.SessionID
	if err := r.workspace.Checkout(ctx, r.repo, root.GitBranch, false); err != nil {
		r.cancelRunning(context.WithoutCancel(ctx), "root branch unavailable")
		return r.report, fmt.Errorf("checkout root branch %s: %w", root.GitBranch, err)
	}
	r.emit(Event{Kind: EventSpawned, SessionID: root.SessionID, Branch: root.GitBranch, Message: p.Root.Vision})

	runErr := r.runNode(ctx, root.SessionID, &p.Root)
	if errors.Is(runErr, errStopped) {
		runErr = nil
	}

	if ctx.Err() != nil {
		runErr = ctx.Err()
		r.cancelRunning(context.WithoutCancel(ctx), "run interrupted")
	} else if runErr != nil {
		r.cancelRunning(ctx, fmt.Sprintf("run aborted: %v", runErr))
	} else if r.running(root.SessionID) {
		r.finish(ctx, root.SessionID, &p.Root)
	}

	if err := r.workspace.Checkout(context.WithoutCancel(ctx), r.repo, root.GitBranch, false); err != nil {
		r.logger.Warn("restore root branch", zap.String("branch", root.GitBranch), zap.Error(err))
	}

	status := r.coord.GetTreeStatus()
	r.report.Total = status.TotalNodes
	r.report.Completed = status.ByStatus[models.NodeCompleted]
	r.report.Failed = status.ByStatus[models.NodeFailed]
	r.report.Cancelled = status.ByStatus[models.NodeCancelled]
	r.report.MaxDepth = status.MaxDepth
	r.report.Duration = time.Since(start)
	return r.report, runErr
}

// runNode takes the agent id through PLAN, FOUND, and SUMMON. The caller
// finishes it.
func (r *Runner) runNode(ctx context.Context, id string, n *Node) error {
	node, _ := r.coord.GetNode(id)
	log := r.logger.With(zap.String("session_id", id), zap.String("branch", node.GitBranch))

	if err := r.enter(ctx, id, models.PhasePlan); err != nil {
		return err
	}

	if err := r.enter(ctx, id, models.PhaseFound); err != nil {
		return err
	}
	if len(n.Files) > 0 {
		msg := fmt.Sprintf("agent %s: %s", id, firstLine(n.Vision))
		if err := r.workspace.CommitFiles(ctx, node.WorkingDirectory, n.Files, msg); err != nil {
			log.Error("commit agent work failed", zap.Error(err))
			r.failed[id] = fmt.Sprintf("commit failed: %v", err)
		} else {
			r.emit(Event{Kind: EventCommitted, SessionID: id, Depth: node.Depth, Branch: node.GitBranch, Message: fmt.Sprintf("%d file(s)", len(n.Files))})
		}
	}
	if err := r.work(ctx, id, n.Work); err != nil {
		return err
	}

	if err := r.enter(ctx, id, models.PhaseSummon); err != nil {
		return err
	}
	for i := range n.Children {
		if err := r.spawnAndRun(ctx, id, &n.Children[i]); err != nil {
			return err
		}
	}

	return r.enter(ctx, id, models.PhaseComplete)
}

func (r *Runner) spawnAndRun(ctx context.Context, parentID string, child *Node) error {
	if err := r.checkpoint(ctx, parentID); err != nil {
		return err
	}
	if !r.coord.CanSpawnChild(parentID) {
		parent, _ := r.coord.GetNode(parentID)
		r.logger.Warn("skipping child the parent cannot spawn",
			zap.String("parent_id", parentID), zap.Int("depth", parent.Depth), zap.String("vision", firstLine(child.Vision)))
		r.report.Skipped += 1 + countChildren(child)
		r.emit(Event{Kind: EventSkipped, SessionID: parentID, Depth: parent.Depth + 1, Message: child.Vision})
		return nil
	}

	branch, err := r.coord.GenerateChildBranch(parentID)
	if err != nil {
		return err
	}
	childID := child.ID
	if childID == "" {
		childID = r.newID()
	}
	node, err := r.coord.AddChild(ctx, parentID, childID, models.SpawnRequest{
		Specialization: child.Specialization,
		GitBranch:      branch,
		Vision:         child.Vision,
		MaxIterations:  child.MaxIterations,
		CostBudget:     child.CostBudget,
	})
	if err != nil {
		return fmt.Errorf("spawn %s under %s: %w", childID, parentID, err)
	}
	r.emit(Event{Kind: EventSpawned, SessionID: childID, Depth: node.Depth, Branch: node.GitBranch, Message: child.Vision})

	err = r.runNode(ctx, childID, child)
	if err != nil && !errors.Is(err, errStopped) {
		return err
	}
	if r.running(childID) {
		r.finish(ctx, childID, child)
	}
	return r.checkpoint(ctx, parentID)
}

// finish reports the node's outcome to the coordinator.
func (r *Runner) finish(ctx context.Context, id string, n *Node) {
	result := models.CompletionResult{
		Success: n.Outcome != OutcomeFailure,
		Summary: n.Summary,
	}
	for f := range n.Files {
		result.FilesChanged = append(result.FilesChanged, f)
	}
	sort.Strings(result.FilesChanged)
	if msg, ok := r.failed[id]; ok {
		result.Success = false
		result.Summary = msg
	}
	if !result.Success {
		result.Error = result.Summary
		if result.Error == "" {
			result.Error = "agent reported failure"
		}
		result.Summary = ""
	}

	err := r.coord.CompleteChild(ctx, id, result, "")
	node, _ := r.coord.GetNode(id)
	r.emit(Event{Kind: EventFinished, SessionID: id, Depth: node.Depth, Branch: node.GitBranch, Status: node.Status})

	var mfe *tree.MergeFailureError
	switch {
	case err == nil:
	case errors.As(err, &mfe):
		r.report.MergeFailures = append(r.report.MergeFailures, MergeFailure{
			ChildID:   mfe.ChildID,
			Branch:    mfe.Branch,
			Into:      mfe.Into,
			Conflicts: append([]string(nil), mfe.Conflicts...),
			Error:     mfe.Error(),
		})
		r.emit(Event{Kind: EventMergeFailed, SessionID: id, Depth: node.Depth, Branch: node.GitBranch, Message: mfe.Error()})
	default:
		r.logger.Error("complete agent", zap.String("session_id", id), zap.Error(err))
	}
}

// enter moves id to phase after applying pending signals.
func (r *Runner) enter(ctx context.Context, id string, phase models.Phase) error {
	if err := r.checkpoint(ctx, id); err != nil {
		return err
	}
	r.coord.UpdatePhase(id, phase)
	node, _ := r.coord.GetNode(id)
	r.emit(Event{Kind: EventPhase, SessionID: id, Depth: node.Depth, Branch: node.GitBranch, Phase: phase})
	return nil
}

// work waits d, applying cancellation requests as they arrive.
func (r *Runner) work(ctx context.Context, id string, d time.Duration) error {
	if d <= 0 {
		return r.checkpoint(ctx, id)
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return r.checkpoint(ctx, id)
		}
		if r.signals != nil {
			r.signals.Wait(ctx, remaining)
		} else {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		if err := r.checkpoint(ctx, id); err != nil {
			return err
		}
	}
}

// checkpoint applies pending signals and reports whether id may continue.
func (r *Runner) checkpoint(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.applySignals(ctx)
	if !r.running(id) {
		return errStopped
	}
	return nil
}

func (r *Runner) applySignals(ctx context.Context) {
	if r.signals == nil {
		return
	}
	for _, sig := range r.signals.Drain() {
		reason := sig.Reason
		if reason == "" {
			reason = "cancelled by request"
		}
		if err := r.coord.CancelChild(ctx, sig.SessionID, reason); err != nil {
			if errors.Is(err, tree.ErrChildNotFound) || errors.Is(err, tree.ErrNotRunning) {
				r.logger.Warn("ignoring cancellation request", zap.String("session_id", sig.SessionID), zap.Error(err))
				r.emit(Event{Kind: EventSignalIgnored, SessionID: sig.SessionID, Message: err.Error()})
				continue
			}
			r.logger.Error("cancel agent", zap.String("session_id", sig.SessionID), zap.Error(err))
		}
		node, _ := r.coord.GetNode(sig.SessionID)
		r.emit(Event{Kind: EventCancelled, SessionID: sig.SessionID, Depth: node.Depth, Branch: node.GitBranch, Message: reason})
	}
}

// cancelRunning cancels the root and thereby every running agent.
func (r *Runner) cancelRunning(ctx context.Context, reason string) {
	rootID := r.coord.RootSessionID()
	if !r.running(rootID) {
		return
	}
	if err := r.coord.CancelChild(ctx, rootID, reason); err != nil {
		r.logger.Error("cancel running agents", zap.Error(err))
	}
	r.emit(Event{Kind: EventCancelled, SessionID: rootID, Message: reason})
}

func (r *Runner) running(id string) bool {
	node, ok := r.coord.GetNode(id)
	return ok && node.Status == models.NodeRunning
}

func (r *Runner) emit(e Event) {
	if r.onEvent != nil {
		r.onEvent(e)
	}
}

func countChildren(n *Node) int {
	c := 0
	for i := range n.Children {
		c += 1 + countChildren(&n.Children[i])
	}
	return c
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
