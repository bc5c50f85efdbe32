package tree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyInitialized is returned when a root already exists.
	ErrAlreadyInitialized = errors.New("agent tree already initialized")
	// ErrNotInitialized is returned when an operation needs a root and there is none.
	ErrNotInitialized = errors.New("agent tree not initialized")
	// ErrParentNotFound is returned when the parent session is unknown.
	ErrParentNotFound = errors.New("parent session not found")
	// ErrChildNotFound is returned when the child session is unknown.
	ErrChildNotFound = errors.New("child session not found")
	// ErrParentNotRunning is returned when spawning under a finished parent.
	ErrParentNotRunning = errors.New("parent session is not running")
	// ErrNotRunning is returned when finishing a session that already finished.
	ErrNotRunning = errors.New("session is not running")
	// ErrDuplicateSession is returned when a session ID is registered twice.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrEmptySessionID is returned for a blank session ID.
	ErrEmptySessionID = errors.New("session ID is empty")
	// ErrEmptyBranch is returned when a spawn request has no branch.
	ErrEmptyBranch = errors.New("spawn request has no git branch")
	// ErrBranchInUse is returned when a branch already belongs to another node.
	ErrBranchInUse = errors.New("git branch already used in tree")
	// ErrInvalidSpecialization is returned for a specialization outside the known set.
	ErrInvalidSpecialization = errors.New("invalid specialization")
	// ErrMaxDepth is returned when a spawn would exceed the configured depth limit.
	ErrMaxDepth = errors.New("maximum tree depth reached")
)

// ConcurrentChildError is returned when a parent already has a running child.
type ConcurrentChildError struct {
	ParentID string
	Running  []string
}

func (e *ConcurrentChildError) Error() string {
	return fmt.Sprintf("parent %s already has running child: %s", e.ParentID, strings.Join(e.Running, ", "))
}

// BranchCreationError wraps a version-control failure while creating a child's branch.
type BranchCreationError struct {
	SessionID string
	Branch    string
	Err       error
}

func (e *BranchCreationError) Error() string {
	return fmt.Sprintf("create branch %s for session %s: %v", e.Branch, e.SessionID, e.Err)
}

func (e *BranchCreationError) Unwrap() error {
	return e.Err
}

// MergeFailureError wraps a version-control failure while merging a child
// back into its parent. Conflicts lists conflicted paths when known.
type MergeFailureError struct {
	ChildID   string
	Branch    string
	Into      string
	Conflicts []string
	Err       error
}

func (e *MergeFailureError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("merge %s into %s for session %s: conflicts in %s",
			e.Branch, e.Into, e.ChildID, strings.Join(e.Conflicts, ", "))
	}
	return fmt.Sprintf("merge %s into %s for session %s: %v", e.Branch, e.Into, e.ChildID, e.Err)
}

func (e *MergeFailureError) Unwrap() error {
	return e.Err
}
