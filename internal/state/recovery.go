package state

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/keenhq/keen/pkg/models"
)

// InterruptedTree is an agent tree whose mirror still has running sessions,
// left behind by a run that exited without finishing its agents.
type InterruptedTree struct {
	RootID       string
	StartedAt    time.Time
	LastActivity time.Time
	Running      []string
}

// RecoveryManager detects and closes out interrupted agent trees.
type RecoveryManager struct {
	db    *DB
	now   func() time.Time
	host  string
	alive func(pid int) bool
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	host, _ := os.Hostname()
	return &RecoveryManager{db: db, now: time.Now, host: host, alive: isProcessAlive}
}

// ownerActive reports whether s is still driven by a live process.
// Sessions from another host cannot be checked and count as active;
// sessions without a recorded owner never do.
func (rm *RecoveryManager) ownerActive(s AgentSession) bool {
	if s.Owner.PID <= 0 {
		return false
	}
	if s.Owner.Host != "" && s.Owner.Host != rm.host {
		return true
	}
	return rm.alive(s.Owner.PID)
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}

// CheckForInterrupted groups running sessions whose owning process is gone
// by the root of their tree. Trees are returned oldest first.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) ([]InterruptedTree, error) {
	all, err := rm.db.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	var running []AgentSession
	for _, s := range all {
		if !rm.ownerActive(s) {
			running = append(running, s)
		}
	}
	if len(running) == 0 {
		return nil, nil
	}

	parents := make(map[string]string)
	roots, err := rm.db.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	rootStart := make(map[string]time.Time, len(roots))
	for _, r := range roots {
		rootStart[r.ID] = r.StartedAt
	}

	var trees []InterruptedTree
	index := make(map[string]int)
	for _, s := range running {
		rootID, err := rm.rootOf(ctx, s, parents)
		if err != nil {
			return nil, err
		}
		i, ok := index[rootID]
		if !ok {
			i = len(trees)
			index[rootID] = i
			trees = append(trees, InterruptedTree{RootID: rootID, StartedAt: rootStart[rootID]})
		}
		trees[i].Running = append(trees[i].Running, s.ID)
		if s.StartedAt.After(trees[i].LastActivity) {
			trees[i].LastActivity = s.StartedAt
		}
	}
	return trees, nil
}

// rootOf walks parent links up to the root, caching lookups in parents.
func (rm *RecoveryManager) rootOf(ctx context.Context, s AgentSession, parents map[string]string) (string, error) {
	id, parent := s.ID, s.ParentSessionID
	seen := map[string]bool{id: true}
	for parent != "" {
		id = parent
		if seen[id] {
			return "", fmt.Errorf("session %s: parent cycle", s.ID)
		}
		seen[id] = true
		if p, ok := parents[id]; ok {
			parent = p
			continue
		}
		sess, err := rm.db.GetSession(ctx, id)
		if err != nil {
			return "", err
		}
		if sess == nil {
			// Orphan: its parent row was purged.
			return id, nil
		}
		parents[id] = sess.ParentSessionID
		parent = sess.ParentSessionID
	}
	return id, nil
}

// Clean marks every running session of rootID's tree as cancelled with
// reason. Sessions whose owner is still running are left alone. It returns
// the number of sessions closed.
func (rm *RecoveryManager) Clean(ctx context.Context, rootID, reason string) (int, error) {
	sessions, err := rm.db.ListTree(ctx, rootID)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, fmt.Errorf("clean %s: %w", rootID, ErrSessionNotFound)
	}

	end := rm.now()
	success := false
	closed := 0
	for _, s := range sessions {
		if s.ExecutionStatus != models.NodeRunning || rm.ownerActive(s) {
			continue
		}
		err := rm.db.UpdateSession(ctx, s.ID, models.SessionUpdate{
			ExecutionStatus:  models.NodeCancelled,
			Success:          &success,
			CompletionReport: reason,
			EndTime:          &end,
		}, models.UserContext{UserID: s.UserID, TenantID: s.TenantID})
		if err != nil {
			return closed, fmt.Errorf("clean %s: %w", s.ID, err)
		}
		closed++
	}
	return closed, nil
}
