package models

import "time"

// UserContext identifies the tenant a tree is running on behalf of.
type UserContext struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// AgentOptions are the per-agent execution settings mirrored to storage.
type AgentOptions struct {
	Specialization Specialization `json:"specialization"`
	MaxIterations  int            `json:"max_iterations,omitempty"`
	CostBudget     float64        `json:"cost_budget,omitempty"`
}

// SessionRecord is the persisted form of a newly registered agent.
type SessionRecord struct {
	SessionID        string       `json:"session_id"`
	ParentSessionID  string       `json:"parent_session_id,omitempty"`
	Depth            int          `json:"depth"`
	GitBranch        string       `json:"git_branch"`
	Vision           string       `json:"vision"`
	WorkingDirectory string       `json:"working_directory"`
	AgentOptions     AgentOptions `json:"agent_options"`
}

// SessionUpdate is the persisted outcome of an agent.
type SessionUpdate struct {
	ExecutionStatus  NodeStatus `json:"execution_status"`
	Success          *bool      `json:"success,omitempty"`
	CompletionReport string     `json:"completion_report,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}
