package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAdapter_CheckoutCreatesMissingBranch(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	if err := a.Checkout(ctx, dir, "keen/agent-1", true); err != nil {
		t.Fatalf("Checkout(create) failed: %v", err)
	}

	branch, err := NewRunner(dir).CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}
	if branch != "keen/agent-1" {
		t.Errorf("current branch = %q, want %q", branch, "keen/agent-1")
	}
}

func TestAdapter_CheckoutCreateResetsStaleBranch(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	// An earlier run left keen/agent-1 behind with its own commit.
	if err := a.Checkout(ctx, dir, "keen/agent-1", true); err != nil {
		t.Fatalf("Checkout(create) failed: %v", err)
	}
	writeFile(t, dir, "a.txt", "run1\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "run1")
	if err := a.Checkout(ctx, dir, "main", false); err != nil {
		t.Fatalf("Checkout main failed: %v", err)
	}
	writeFile(t, dir, "a.txt", "main-later\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "main moves on")

	if err := a.Checkout(ctx, dir, "keen/agent-1", true); err != nil {
		t.Fatalf("Checkout(create) on existing branch failed: %v", err)
	}

	branch, _ := NewRunner(dir).CurrentBranch(ctx)
	if branch != "keen/agent-1" {
		t.Errorf("current branch = %q, want %q", branch, "keen/agent-1")
	}
	head := strings.TrimSpace(gitCmd(t, dir, "rev-parse", "HEAD"))
	mainHead := strings.TrimSpace(gitCmd(t, dir, "rev-parse", "main"))
	if head != mainHead {
		t.Errorf("keen/agent-1 at %s, want main's HEAD %s", head, mainHead)
	}
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read a.txt: %v", err)
	}
	if string(content) != "main-later\n" {
		t.Errorf("a.txt = %q, want parent content", content)
	}
}

func TestAdapter_DeleteBranch(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	gitCmd(t, dir, "branch", "keen/agent-1")
	if err := a.DeleteBranch(ctx, dir, "keen/agent-1"); err != nil {
		t.Fatalf("DeleteBranch failed: %v", err)
	}
	exists, err := NewRunner(dir).BranchExists(ctx, "keen/agent-1")
	if err != nil {
		t.Fatalf("BranchExists failed: %v", err)
	}
	if exists {
		t.Error("branch still exists after DeleteBranch")
	}

	if err := a.DeleteBranch(ctx, dir, "keen/agent-1"); err != nil {
		t.Errorf("DeleteBranch of missing branch = %v, want nil", err)
	}
}

func TestAdapter_CheckoutWithoutCreateFailsForMissingBranch(t *testing.T) {
	dir := initTestRepo(t)
	a := NewAdapter(nil)

	if err := a.Checkout(context.Background(), dir, "nope", false); err == nil {
		t.Fatal("expected error checking out missing branch without create")
	}
}

func TestAdapter_MergeChildIntoParent(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	if err := a.Checkout(ctx, dir, "keen/agent-1", true); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	writeFile(t, dir, "api.go", "package api\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "add api")

	if err := a.Checkout(ctx, dir, "main", false); err != nil {
		t.Fatalf("Checkout main failed: %v", err)
	}
	if err := a.Merge(ctx, dir, "keen/agent-1", "Merge agent child-1"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	log := gitCmd(t, dir, "log", "-1", "--pretty=%s")
	if !strings.Contains(log, "Merge agent child-1") {
		t.Errorf("last commit subject = %q, want merge message", log)
	}
}

func TestAdapter_MergeConflictIsReportedAndAborted(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	if err := a.Checkout(ctx, dir, "keen/agent-1", true); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	writeFile(t, dir, "README.md", "# Child\n")
	gitCmd(t, dir, "commit", "-am", "child edit")

	if err := a.Checkout(ctx, dir, "main", false); err != nil {
		t.Fatalf("Checkout main failed: %v", err)
	}
	writeFile(t, dir, "README.md", "# Parent\n")
	gitCmd(t, dir, "commit", "-am", "parent edit")

	err := a.Merge(ctx, dir, "keen/agent-1", "Merge agent child-1")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Merge error = %v, want *ConflictError", err)
	}
	if len(conflict.Files) != 1 || conflict.Files[0] != "README.md" {
		t.Errorf("conflict files = %v, want [README.md]", conflict.Files)
	}

	has, err := NewRunner(dir).HasConflicts(ctx)
	if err != nil {
		t.Fatalf("HasConflicts failed: %v", err)
	}
	if has {
		t.Error("merge should have been aborted")
	}
}

func TestAdapter_MergeUnknownBranch(t *testing.T) {
	dir := initTestRepo(t)
	a := NewAdapter(nil)

	err := a.Merge(context.Background(), dir, "does-not-exist", "msg")
	if err == nil {
		t.Fatal("expected error merging unknown branch")
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		t.Error("unknown branch should not be reported as a conflict")
	}
}

func TestIsConflictCode(t *testing.T) {
	for _, code := range []string{"UU", "AA", "DD", "AU", "UA", "DU", "UD"} {
		if !isConflictCode(code) {
			t.Errorf("isConflictCode(%q) = false, want true", code)
		}
	}
	for _, code := range []string{" M", "??", "A ", "M "} {
		if isConflictCode(code) {
			t.Errorf("isConflictCode(%q) = true, want false", code)
		}
	}
}

func TestAdapter_CommitFiles(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	a := NewAdapter(nil)

	files := map[string]string{
		"api/server.go": "package api\n",
		"README.md":     "# Updated\n",
	}
	if err := a.CommitFiles(ctx, dir, files, "keen: backend agent"); err != nil {
		t.Fatalf("CommitFiles failed: %v", err)
	}

	subject := strings.TrimSpace(gitCmd(t, dir, "log", "-1", "--pretty=%s"))
	if subject != "keen: backend agent" {
		t.Errorf("last commit subject = %q", subject)
	}
	changed := gitCmd(t, dir, "show", "--name-only", "--pretty=", "HEAD")
	for path := range files {
		if !strings.Contains(changed, path) {
			t.Errorf("commit missing %s: %s", path, changed)
		}
	}

	// Same content again: nothing to commit.
	before := gitCmd(t, dir, "rev-parse", "HEAD")
	if err := a.CommitFiles(ctx, dir, files, "again"); err != nil {
		t.Fatalf("CommitFiles (unchanged) failed: %v", err)
	}
	if after := gitCmd(t, dir, "rev-parse", "HEAD"); after != before {
		t.Error("unchanged files produced a commit")
	}
}

func TestAdapter_CommitFilesRejectsEscapingPaths(t *testing.T) {
	dir := initTestRepo(t)
	a := NewAdapter(nil)

	for _, p := range []string{"../outside.txt", "/etc/passwd"} {
		err := a.CommitFiles(context.Background(), dir, map[string]string{p: "x"}, "msg")
		if err == nil {
			t.Errorf("CommitFiles(%q) succeeded, want error", p)
		}
	}
}

func TestAdapter_CommitFilesEmpty(t *testing.T) {
	a := NewAdapter(func(string) Runner {
		t.Fatal("runner should not be created for an empty file set")
		return nil
	})
	if err := a.CommitFiles(context.Background(), "/nowhere", nil, "msg"); err != nil {
		t.Errorf("CommitFiles(nil) = %v", err)
	}
}

// brokenStatusRunner fails merges and every conflict inspection.
type brokenStatusRunner struct {
	Runner
	statusErr error
}

func (r *brokenStatusRunner) MergeNoFFMessage(context.Context, string, string) error {
	return errors.New("exit status 1")
}

func (r *brokenStatusRunner) HasConflicts(context.Context) (bool, error) {
	return false, r.statusErr
}

func TestAdapter_MergeReportsFailedConflictCheck(t *testing.T) {
	statusErr := errors.New("git status: index.lock exists")
	a := NewAdapter(func(string) Runner { return &brokenStatusRunner{statusErr: statusErr} })

	err := a.Merge(context.Background(), "/repo", "keen/agent-1", "msg")
	if err == nil {
		t.Fatal("expected error")
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		t.Fatalf("error = %v, want a plain merge error", err)
	}
	if !strings.Contains(err.Error(), "conflict check failed") || !strings.Contains(err.Error(), "index.lock") {
		t.Errorf("error = %q, want the failed conflict check", err)
	}
}

func TestRunner_ConflictedFilesReportsGitFailure(t *testing.T) {
	if _, err := NewRunner(t.TempDir()).ConflictedFiles(context.Background()); err == nil {
		t.Error("expected error outside a repository")
	}
}
