package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to the git binary.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// NewRunnerFactory returns a RunnerFactory producing ExecRunners.
func NewRunnerFactory() RunnerFactory {
	return func(dir string) Runner { return NewRunner(dir) }
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// Dir returns the repository path.
func (r *ExecRunner) Dir() string {
	return r.repoPath
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// ResetAndCheckoutBranch points name at HEAD and switches to it (git checkout -B).
func (r *ExecRunner) ResetAndCheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", "-B", name)
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", name)
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means branch doesn't exist (not an error)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "branch", "-D", name)
}

// status returns the output of git status --porcelain.
func (r *ExecRunner) status(ctx context.Context) (string, error) {
	return r.run(ctx, "status", "--porcelain")
}

// Add stages the specified paths for commit.
func (r *ExecRunner) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	return r.runSilent(ctx, args...)
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	return r.runSilent(ctx, "commit", "-m", message)
}

// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
func (r *ExecRunner) MergeNoFFMessage(ctx context.Context, branch, message string) error {
	return r.runSilent(ctx, "merge", "--no-ff", "-m", message, branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort(ctx context.Context) error {
	return r.runSilent(ctx, "merge", "--abort")
}

// HasConflicts returns true if there are merge conflicts.
func (r *ExecRunner) HasConflicts(ctx context.Context) (bool, error) {
	status, err := r.status(ctx)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(status, "\n") {
		if len(line) >= 2 && isConflictCode(line[:2]) {
			return true, nil
		}
	}
	return false, nil
}

// isConflictCode reports whether a porcelain status code marks an unmerged path.
func isConflictCode(code string) bool {
	switch code {
	case "UU", "AA", "DD", "AU", "UA", "DU", "UD":
		return true
	default:
		return false
	}
}

// ConflictedFiles returns a list of files with unmerged changes.
func (r *ExecRunner) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
