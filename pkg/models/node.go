package models

import "time"

// NodeStatus represents the execution state of an agent in the tree.
type NodeStatus string

const (
	// NodeRunning indicates the agent is actively working.
	NodeRunning NodeStatus = "running"
	// NodeCompleted indicates the agent finished successfully.
	NodeCompleted NodeStatus = "completed"
	// NodeFailed indicates the agent finished unsuccessfully.
	NodeFailed NodeStatus = "failed"
	// NodeCancelled indicates the agent was stopped by an external signal.
	NodeCancelled NodeStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeRunning, NodeCompleted, NodeFailed, NodeCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses no transition can leave.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeCancelled
}

// AgentTreeNode is one agent session's position and state in the hierarchy.
type AgentTreeNode struct {
	// SessionID uniquely identifies the agent.
	SessionID string `json:"session_id"`
	// ParentID is the owning agent's session ID. Empty for the root.
	ParentID string `json:"parent_id,omitempty"`
	// Children lists child session IDs in spawn order.
	Children []string `json:"children"`
	// Specialization is the agent's focus area.
	Specialization Specialization `json:"specialization"`
	// Phase is the agent's current lifecycle phase.
	Phase Phase `json:"phase"`
	// GitBranch is the isolated branch the agent works on.
	GitBranch string `json:"git_branch"`
	// Depth is the distance from the root (root is 0).
	Depth int `json:"depth"`
	// WorkingDirectory is where the agent's branch is checked out.
	WorkingDirectory string `json:"working_directory,omitempty"`
	// StartTime is when the agent was registered.
	StartTime time.Time `json:"start_time"`
	// EndTime is set once, when the agent reaches a terminal status.
	EndTime *time.Time `json:"end_time,omitempty"`
	// Status is the agent's execution state.
	Status NodeStatus `json:"status"`
	// Result is attached at the terminal transition.
	Result *CompletionResult `json:"result,omitempty"`
}

// IsRoot reports whether the node has no parent.
func (n *AgentTreeNode) IsRoot() bool {
	return n.ParentID == ""
}

// Clone returns a deep copy of the node.
func (n *AgentTreeNode) Clone() AgentTreeNode {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	if n.EndTime != nil {
		t := *n.EndTime
		c.EndTime = &t
	}
	if n.Result != nil {
		r := *n.Result
		r.FilesChanged = append([]string(nil), n.Result.FilesChanged...)
		c.Result = &r
	}
	return c
}

// SpawnRequest describes a child agent to register under a parent.
type SpawnRequest struct {
	Specialization   Specialization `json:"specialization"`
	GitBranch        string         `json:"git_branch"`
	Vision           string         `json:"vision"`
	WorkingDirectory string         `json:"working_directory"`
	MaxIterations    int            `json:"max_iterations"`
	CostBudget       float64        `json:"cost_budget"`
}

// CompletionResult is the outcome an agent reports when it finishes.
type CompletionResult struct {
	// Success is false when the agent failed to deliver its vision.
	Success bool `json:"success"`
	// Summary is the agent's final report.
	Summary string `json:"summary,omitempty"`
	// Error describes the failure, if any.
	Error string `json:"error,omitempty"`
	// FilesChanged lists files the agent touched.
	FilesChanged []string `json:"files_changed,omitempty"`
	// Iterations is the number of agent iterations used.
	Iterations int `json:"iterations,omitempty"`
	// Cost is the model spend in dollars.
	Cost float64 `json:"cost,omitempty"`
}
