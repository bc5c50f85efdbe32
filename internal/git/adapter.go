package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConflictError reports a merge that stopped on conflicting paths.
// The merge has already been aborted when this error is returned.
type ConflictError struct {
	Branch string
	Files  []string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge %s: conflicts in %s", e.Branch, strings.Join(e.Files, ", "))
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Adapter performs branch checkout and merge in arbitrary working directories.
type Adapter struct {
	newRunner RunnerFactory
}

// NewAdapter creates an Adapter. A nil factory uses ExecRunner.
func NewAdapter(factory RunnerFactory) *Adapter {
	if factory == nil {
		factory = NewRunnerFactory()
	}
	return &Adapter{newRunner: factory}
}

// Checkout switches workDir to branch. When create is true the branch is
// created from the current HEAD, replacing any existing branch of that name.
func (a *Adapter) Checkout(ctx context.Context, workDir, branch string, create bool) error {
	r := a.newRunner(workDir)

	if create {
		if err := r.ResetAndCheckoutBranch(ctx, branch); err != nil {
			return fmt.Errorf("create branch %s: %w", branch, err)
		}
		return nil
	}

	if err := r.CheckoutBranch(ctx, branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// DeleteBranch removes branch from the repository at workDir. A missing
// branch is not an error.
func (a *Adapter) DeleteBranch(ctx context.Context, workDir, branch string) error {
	r := a.newRunner(workDir)

	exists, err := r.BranchExists(ctx, branch)
	if err != nil {
		return fmt.Errorf("check branch %s: %w", branch, err)
	}
	if !exists {
		return nil
	}
	if err := r.DeleteBranch(ctx, branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// Merge merges source into the branch currently checked out in workDir.
// On conflict the merge is aborted and a *ConflictError is returned.
func (a *Adapter) Merge(ctx context.Context, workDir, source, message string) error {
	r := a.newRunner(workDir)

	mergeErr := r.MergeNoFFMessage(ctx, source, message)
	if mergeErr == nil {
		return nil
	}

	conflicted, err := r.HasConflicts(ctx)
	if err != nil {
		return fmt.Errorf("merge %s: %w (conflict check failed: %v)", source, mergeErr, err)
	}
	if !conflicted {
		return fmt.Errorf("merge %s: %w", source, mergeErr)
	}

	files, err := r.ConflictedFiles(ctx)
	if err != nil {
		return fmt.Errorf("merge %s: list conflicts: %w", source, err)
	}
	if err := r.MergeAbort(ctx); err != nil {
		return fmt.Errorf("abort merge of %s after conflict: %w", source, err)
	}
	return &ConflictError{Branch: source, Files: files, Err: mergeErr}
}

// CommitFiles writes files (relative path to content) into workDir and
// commits them on the current branch. It is a no-op when nothing changed.
func (a *Adapter) CommitFiles(ctx context.Context, workDir string, files map[string]string, message string) error {
	if len(files) == 0 {
		return nil
	}
	r := a.newRunner(workDir)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		clean := filepath.Clean(p)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("path %q escapes the working directory", p)
		}
		full := filepath.Join(workDir, clean)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", p, err)
		}
		if err := os.WriteFile(full, []byte(files[p]), 0644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}

	if err := r.Add(ctx, paths...); err != nil {
		return fmt.Errorf("stage files: %w", err)
	}
	staged, err := r.Run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("check staged changes: %w", err)
	}
	if strings.TrimSpace(staged) == "" {
		return nil
	}
	if err := r.Commit(ctx, message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
