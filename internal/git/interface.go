// Package git provides the version-control operations agents run against
// their working directories.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// ResetAndCheckoutBranch points name at HEAD, creating it if needed, and
	// switches to it (git checkout -B).
	ResetAndCheckoutBranch(ctx context.Context, name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(ctx context.Context, name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(ctx context.Context, name string) error
}

// CommitOperations defines the interface for staging and committing work.
type CommitOperations interface {
	// Add stages the specified paths for commit.
	Add(ctx context.Context, paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(ctx context.Context, message string) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
	MergeNoFFMessage(ctx context.Context, branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort(ctx context.Context) error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts(ctx context.Context) (bool, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
}

// Runner defines the complete interface for git operations in one working directory.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	CommitOperations
	MergeOperations
	// Dir returns the working directory the runner operates in.
	Dir() string
	// Run executes an arbitrary git command with the given arguments.
	Run(ctx context.Context, args ...string) (string, error)
}

// RunnerFactory creates a Runner for a working directory.
type RunnerFactory func(dir string) Runner
