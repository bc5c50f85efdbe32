// Package tree coordinates the hierarchy of agents working on a vision.
//
// A Coordinator owns one agent tree: a root session plus every child agent
// it (recursively) spawns. It enforces that a parent has at most one running
// child at a time, gives each agent its own git branch through a
// VersionControl collaborator, merges finished children back into their
// parent's branch, and mirrors sessions to an optional Persistence
// collaborator. The in-memory tree is authoritative; persistence failures
// are logged and never fail an operation.
//
// Example usage:
//
//	c := tree.New(git.NewAdapter(nil), tree.WithLogger(logger))
//	root, _ := c.InitializeRoot(ctx, rootID, models.SpecializationGeneral, repo)
//	if c.CanSpawnChild(root.SessionID) {
//		branch, _ := c.GenerateChildBranch(root.SessionID)
//		child, err := c.AddChild(ctx, root.SessionID, childID, models.SpawnRequest{
//			Specialization: models.SpecializationBackend,
//			GitBranch:      branch,
//			Vision:         "Build the API",
//		})
//		...
//		err = c.CompleteChild(ctx, child.SessionID, models.CompletionResult{Success: true}, "")
//	}
package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/git"
	"github.com/keenhq/keen/internal/specialization"
	"github.com/keenhq/keen/pkg/models"
)

// VersionControl performs branch operations in an agent's working directory.
type VersionControl interface {
	// Checkout switches workDir to branch. When create is true the branch
	// is created from HEAD, replacing any stale branch of the same name.
	Checkout(ctx context.Context, workDir, branch string, create bool) error
	// Merge merges source into the branch checked out in workDir.
	Merge(ctx context.Context, workDir, source, message string) error
}

// BranchRemover is implemented by a VersionControl that can delete
// branches. AddChild uses it to drop a branch whose spawn was rejected.
type BranchRemover interface {
	DeleteBranch(ctx context.Context, workDir, branch string) error
}

// Persistence mirrors agent sessions to durable storage.
type Persistence interface {
	CreateSession(ctx context.Context, userID string, rec models.SessionRecord, user models.UserContext) error
	UpdateSession(ctx context.Context, sessionID string, upd models.SessionUpdate, user models.UserContext) error
}

// Coordinator owns one agent tree. Create one per agent run with New.
type Coordinator struct {
	vcs           VersionControl
	persistence   Persistence
	user          models.UserContext
	logger        *zap.Logger
	metrics       *Metrics
	namer         git.BranchNamer
	defaultBranch string
	maxDepth      int
	now           func() time.Time

	// mu guards the fields below. It is never held across collaborator calls.
	mu             sync.Mutex
	rootID         string
	nodes          map[string]*models.AgentTreeNode
	executionOrder []string
}

// New creates a Coordinator that performs branch operations through vcs.
func New(vcs VersionControl, opts ...Option) *Coordinator {
	c := &Coordinator{
		vcs:           vcs,
		logger:        zap.NewNop(),
		namer:         git.NewBranchNamer(""),
		defaultBranch: DefaultBranch,
		now:           time.Now,
		nodes:         make(map[string]*models.AgentTreeNode),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitializeRoot registers the root session on the default branch.
// It fails with ErrAlreadyInitialized if a root exists.
func (c *Coordinator) InitializeRoot(ctx context.Context, sessionID string, spec models.Specialization, workDir string) (models.AgentTreeNode, error) {
	if sessionID == "" {
		return models.AgentTreeNode{}, ErrEmptySessionID
	}
	if !spec.Valid() {
		return models.AgentTreeNode{}, fmt.Errorf("%w: %q", ErrInvalidSpecialization, spec)
	}

	c.mu.Lock()
	if c.rootID != "" {
		rootID := c.rootID
		c.mu.Unlock()
		return models.AgentTreeNode{}, fmt.Errorf("%w: root is %s", ErrAlreadyInitialized, rootID)
	}

	node := &models.AgentTreeNode{
		SessionID:        sessionID,
		Children:         []string{},
		Specialization:   spec,
		Phase:            models.PhaseExplore,
		GitBranch:        c.defaultBranch,
		Depth:            0,
		WorkingDirectory: workDir,
		StartTime:        c.now(),
		Status:           models.NodeRunning,
	}
	c.rootID = sessionID
	c.nodes[sessionID] = node
	c.executionOrder = append(c.executionOrder, sessionID)
	snapshot := node.Clone()
	c.mu.Unlock()

	c.metrics.spawned(string(spec))
	c.logger.Info("agent tree initialized",
		zap.String("session_id", sessionID),
		zap.String("branch", snapshot.GitBranch),
		zap.String("specialization", string(spec)))

	c.persistCreate(ctx, models.SessionRecord{
		SessionID:        sessionID,
		Depth:            0,
		GitBranch:        snapshot.GitBranch,
		WorkingDirectory: workDir,
		AgentOptions:     models.AgentOptions{Specialization: spec},
	})
	return snapshot, nil
}

// RootSessionID returns the root's session ID, or "" before InitializeRoot.
func (c *Coordinator) RootSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootID
}

// Root returns a copy of the root node.
func (c *Coordinator) Root() (models.AgentTreeNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	root, ok := c.nodes[c.rootID]
	if !ok {
		return models.AgentTreeNode{}, ErrNotInitialized
	}
	return root.Clone(), nil
}

// CanSpawnChild reports whether parentID may spawn a child right now:
// the parent exists, is running, has no running child, and is above the
// depth limit. It has no side effects.
func (c *Coordinator) CanSpawnChild(parentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.nodes[parentID]
	if !ok || parent.Status != models.NodeRunning {
		return false
	}
	if len(c.runningChildrenLocked(parent)) > 0 {
		return false
	}
	return !c.depthExceededLocked(parent)
}

// GenerateChildBranch proposes the branch for parentID's next child.
// The name is a pure function of the parent's branch and its children's
// branches, so repeated calls without an AddChild return the same name.
func (c *Coordinator) GenerateChildBranch(parentID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.nodes[parentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}

	existing := make([]string, 0, len(parent.Children))
	for _, id := range parent.Children {
		if child, ok := c.nodes[id]; ok {
			existing = append(existing, child.GitBranch)
		}
	}
	return c.namer.Next(parent.GitBranch, existing), nil
}

// AddChild registers childID under parentID and creates its branch.
//
// The sequential-execution invariant is checked on entry and again right
// before registration. The node is registered only after its branch has
// been created; a *BranchCreationError leaves the tree unchanged.
// req.GitBranch is used as given, normally the value from GenerateChildBranch.
// An empty req.WorkingDirectory inherits the parent's.
func (c *Coordinator) AddChild(ctx context.Context, parentID, childID string, req models.SpawnRequest) (models.AgentTreeNode, error) {
	c.mu.Lock()
	parent, err := c.validateSpawnLocked(parentID, childID, req)
	if err != nil {
		c.mu.Unlock()
		return models.AgentTreeNode{}, err
	}
	parentBranch := parent.GitBranch
	workDir := req.WorkingDirectory
	if workDir == "" {
		workDir = parent.WorkingDirectory
	}
	c.mu.Unlock()

	log := c.logger.With(
		zap.String("session_id", childID),
		zap.String("parent_id", parentID),
		zap.String("branch", req.GitBranch))

	if err := c.createBranch(ctx, workDir, parentBranch, req.GitBranch); err != nil {
		c.metrics.branchFailed()
		log.Error("branch creation failed", zap.Error(err))
		return models.AgentTreeNode{}, &BranchCreationError{SessionID: childID, Branch: req.GitBranch, Err: err}
	}

	c.mu.Lock()
	parent, err = c.validateSpawnLocked(parentID, childID, req)
	if err != nil {
		owned := c.branchOwnedLocked(req.GitBranch)
		c.mu.Unlock()
		log.Warn("spawn rejected after branch creation", zap.Error(err))
		if !owned {
			c.discardBranch(ctx, log, workDir, parentBranch, req.GitBranch)
		}
		return models.AgentTreeNode{}, err
	}
	node := &models.AgentTreeNode{
		SessionID:        childID,
		ParentID:         parentID,
		Children:         []string{},
		Specialization:   req.Specialization,
		Phase:            models.PhaseExplore,
		GitBranch:        req.GitBranch,
		Depth:            parent.Depth + 1,
		WorkingDirectory: workDir,
		StartTime:        c.now(),
		Status:           models.NodeRunning,
	}
	c.nodes[childID] = node
	parent.Children = append(parent.Children, childID)
	c.executionOrder = append(c.executionOrder, childID)
	snapshot := node.Clone()
	c.mu.Unlock()

	c.metrics.spawned(string(req.Specialization))
	log.Info("child agent registered",
		zap.Int("depth", snapshot.Depth),
		zap.String("specialization", string(req.Specialization)))

	c.persistCreate(ctx, models.SessionRecord{
		SessionID:        childID,
		ParentSessionID:  parentID,
		Depth:            snapshot.Depth,
		GitBranch:        snapshot.GitBranch,
		Vision:           req.Vision,
		WorkingDirectory: workDir,
		AgentOptions: models.AgentOptions{
			Specialization: req.Specialization,
			MaxIterations:  req.MaxIterations,
			CostBudget:     req.CostBudget,
		},
	})
	return snapshot, nil
}

// validateSpawnLocked checks every precondition of AddChild. c.mu must be held.
func (c *Coordinator) validateSpawnLocked(parentID, childID string, req models.SpawnRequest) (*models.AgentTreeNode, error) {
	parent, ok := c.nodes[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}
	if running := c.runningChildrenLocked(parent); len(running) > 0 {
		return nil, &ConcurrentChildError{ParentID: parentID, Running: running}
	}
	if parent.Status != models.NodeRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrParentNotRunning, parentID, parent.Status)
	}
	if childID == "" {
		return nil, ErrEmptySessionID
	}
	if _, exists := c.nodes[childID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, childID)
	}
	if !req.Specialization.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSpecialization, req.Specialization)
	}
	if req.GitBranch == "" {
		return nil, ErrEmptyBranch
	}
	if id := c.branchOwnerLocked(req.GitBranch); id != "" {
		return nil, fmt.Errorf("%w: %s belongs to %s", ErrBranchInUse, req.GitBranch, id)
	}
	if c.depthExceededLocked(parent) {
		return nil, fmt.Errorf("%w: %d", ErrMaxDepth, c.maxDepth)
	}
	return parent, nil
}

// branchOwnerLocked returns the ID of the node on branch, if any.
func (c *Coordinator) branchOwnerLocked(branch string) string {
	for id, n := range c.nodes {
		if n.GitBranch == branch {
			return id
		}
	}
	return ""
}

func (c *Coordinator) branchOwnedLocked(branch string) bool {
	return c.branchOwnerLocked(branch) != ""
}

// runningChildrenLocked returns the IDs of parent's running children.
func (c *Coordinator) runningChildrenLocked(parent *models.AgentTreeNode) []string {
	var running []string
	for _, id := range parent.Children {
		if child, ok := c.nodes[id]; ok && child.Status == models.NodeRunning {
			running = append(running, id)
		}
	}
	return running
}

func (c *Coordinator) depthExceededLocked(parent *models.AgentTreeNode) bool {
	return c.maxDepth > 0 && parent.Depth+1 > c.maxDepth
}

// createBranch creates branch off parentBranch in workDir.
func (c *Coordinator) createBranch(ctx context.Context, workDir, parentBranch, branch string) error {
	if err := c.vcs.Checkout(ctx, workDir, parentBranch, false); err != nil {
		return fmt.Errorf("checkout parent branch %s: %w", parentBranch, err)
	}
	return c.vcs.Checkout(ctx, workDir, branch, true)
}

// discardBranch checks parentBranch out again and deletes branch. Failures
// are logged.
func (c *Coordinator) discardBranch(ctx context.Context, log *zap.Logger, workDir, parentBranch, branch string) {
	if err := c.vcs.Checkout(ctx, workDir, parentBranch, false); err != nil {
		log.Error("failed to restore parent branch", zap.String("parent_branch", parentBranch), zap.Error(err))
		return
	}
	remover, ok := c.vcs.(BranchRemover)
	if !ok {
		return
	}
	if err := remover.DeleteBranch(ctx, workDir, branch); err != nil {
		log.Error("failed to delete rejected branch", zap.Error(err))
	}
}

// CompleteChild records the outcome of childID and merges its branch into
// its parent's branch.
//
// The status becomes failed when result.Success is false and completed
// otherwise. The merge is expected to be conflict-free because siblings
// never run concurrently; any merge failure is returned as a
// *MergeFailureError and is not resolved. The status change stands and is
// mirrored to persistence even when the merge fails. An empty workDir uses
// the directory the child was created in.
func (c *Coordinator) CompleteChild(ctx context.Context, childID string, result models.CompletionResult, workDir string) error {
	c.mu.Lock()
	node, ok := c.nodes[childID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChildNotFound, childID)
	}
	if node.Status.IsTerminal() {
		status := node.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, childID, status)
	}

	status := models.NodeCompleted
	if !result.Success {
		status = models.NodeFailed
	}
	end := c.finishLocked(node, status, result)

	branch := node.GitBranch
	var parentBranch string
	if parent, ok := c.nodes[node.ParentID]; ok {
		parentBranch = parent.GitBranch
	}
	if workDir == "" {
		workDir = node.WorkingDirectory
	}
	c.mu.Unlock()

	c.metrics.finished(string(status))
	log := c.logger.With(zap.String("session_id", childID), zap.String("branch", branch))
	log.Info("agent finished", zap.String("status", string(status)))

	var mergeErr error
	if parentBranch != "" {
		mergeErr = c.mergeIntoParent(ctx, workDir, childID, branch, parentBranch)
	}

	success := result.Success
	c.persistUpdate(ctx, childID, models.SessionUpdate{
		ExecutionStatus:  status,
		Success:          &success,
		CompletionReport: completionReport(result),
		EndTime:          &end,
	})
	return mergeErr
}

// finishLocked moves node to a terminal status. c.mu must be held.
func (c *Coordinator) finishLocked(node *models.AgentTreeNode, status models.NodeStatus, result models.CompletionResult) time.Time {
	end := c.now()
	if end.Before(node.StartTime) {
		end = node.StartTime
	}
	res := result
	res.FilesChanged = append([]string(nil), result.FilesChanged...)

	node.Status = status
	node.EndTime = &end
	node.Result = &res
	return end
}

// mergeIntoParent checks out parentBranch and merges branch into it.
func (c *Coordinator) mergeIntoParent(ctx context.Context, workDir, childID, branch, parentBranch string) error {
	log := c.logger.With(
		zap.String("session_id", childID),
		zap.String("branch", branch),
		zap.String("into", parentBranch))

	fail := func(err error) error {
		mfe := &MergeFailureError{ChildID: childID, Branch: branch, Into: parentBranch, Err: err}
		var conflict *git.ConflictError
		if errors.As(err, &conflict) {
			mfe.Conflicts = append([]string(nil), conflict.Files...)
			c.metrics.merged("conflict")
		} else {
			c.metrics.merged("error")
		}
		log.Error("merge into parent failed", zap.Strings("conflicts", mfe.Conflicts), zap.Error(err))
		return mfe
	}

	if err := c.vcs.Checkout(ctx, workDir, parentBranch, false); err != nil {
		return fail(fmt.Errorf("checkout %s: %w", parentBranch, err))
	}
	message := fmt.Sprintf("Merge agent %s (%s) into %s", childID, branch, parentBranch)
	if err := c.vcs.Merge(ctx, workDir, branch, message); err != nil {
		return fail(err)
	}

	c.metrics.merged("success")
	log.Info("merged child into parent")
	return nil
}

// CancelChild stops sessionID and every running descendant, deepest first.
// Cancelled work is not merged; the parent's branch is checked out again so
// the next sibling starts from the parent's state.
func (c *Coordinator) CancelChild(ctx context.Context, sessionID, reason string) error {
	c.mu.Lock()
	node, ok := c.nodes[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChildNotFound, sessionID)
	}
	if node.Status.IsTerminal() {
		status := node.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, sessionID, status)
	}

	result := models.CompletionResult{Success: false, Error: reason}
	type cancelled struct {
		id  string
		end time.Time
	}
	var stopped []cancelled
	var visit func(n *models.AgentTreeNode)
	visit = func(n *models.AgentTreeNode) {
		for _, id := range n.Children {
			if child, ok := c.nodes[id]; ok {
				visit(child)
			}
		}
		if n.Status == models.NodeRunning {
			end := c.finishLocked(n, models.NodeCancelled, result)
			stopped = append(stopped, cancelled{id: n.SessionID, end: end})
		}
	}
	visit(node)

	var parentBranch string
	if parent, ok := c.nodes[node.ParentID]; ok {
		parentBranch = parent.GitBranch
	}
	workDir := node.WorkingDirectory
	c.mu.Unlock()

	success := false
	for _, s := range stopped {
		c.metrics.finished(string(models.NodeCancelled))
		c.logger.Info("agent cancelled", zap.String("session_id", s.id), zap.String("reason", reason))
		end := s.end
		c.persistUpdate(ctx, s.id, models.SessionUpdate{
			ExecutionStatus:  models.NodeCancelled,
			Success:          &success,
			CompletionReport: reason,
			EndTime:          &end,
		})
	}

	if parentBranch != "" {
		if err := c.vcs.Checkout(ctx, workDir, parentBranch, false); err != nil {
			return fmt.Errorf("restore parent branch %s: %w", parentBranch, err)
		}
	}
	return nil
}

// UpdatePhase sets the phase of sessionID. Unknown sessions and phases are
// logged and ignored.
func (c *Coordinator) UpdatePhase(sessionID string, phase models.Phase) {
	if !phase.Valid() {
		c.logger.Warn("ignoring unknown phase", zap.String("session_id", sessionID), zap.String("phase", string(phase)))
		return
	}

	c.mu.Lock()
	node, ok := c.nodes[sessionID]
	if ok {
		node.Phase = phase
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("phase update for unknown session", zap.String("session_id", sessionID), zap.String("phase", string(phase)))
		return
	}
	c.logger.Debug("phase updated", zap.String("session_id", sessionID), zap.String("phase", string(phase)))
}

// GetNode returns a copy of the node for sessionID.
func (c *Coordinator) GetNode(sessionID string) (models.AgentTreeNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[sessionID]
	if !ok {
		return models.AgentTreeNode{}, false
	}
	return node.Clone(), true
}

// GetSpecializationContext returns the advisory description of spec.
// Unknown specializations fall back to the general description.
func (c *Coordinator) GetSpecializationContext(spec models.Specialization) specialization.Context {
	return specialization.Lookup(spec)
}

// persistCreate mirrors a new session. Failures are logged and dropped.
func (c *Coordinator) persistCreate(ctx context.Context, rec models.SessionRecord) {
	if c.persistence == nil {
		return
	}
	c.bestEffort("create", rec.SessionID, func() error {
		return c.persistence.CreateSession(ctx, c.user.UserID, rec, c.user)
	})
}

// persistUpdate mirrors a session outcome. Failures are logged and dropped.
func (c *Coordinator) persistUpdate(ctx context.Context, sessionID string, upd models.SessionUpdate) {
	if c.persistence == nil {
		return
	}
	c.bestEffort("update", sessionID, func() error {
		return c.persistence.UpdateSession(ctx, sessionID, upd, c.user)
	})
}

func (c *Coordinator) bestEffort(op, sessionID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.persistenceFailed(op)
			c.logger.Error("session persistence panicked",
				zap.String("op", op), zap.String("session_id", sessionID), zap.Any("panic", r))
		}
	}()

	if err := fn(); err != nil {
		c.metrics.persistenceFailed(op)
		c.logger.Warn("session persistence failed",
			zap.String("op", op), zap.String("session_id", sessionID), zap.Error(err))
	}
}

func completionReport(r models.CompletionResult) string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.Error
}
