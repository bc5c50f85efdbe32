package tree

import "github.com/keenhq/keen/pkg/models"

// TreeStatus is a point-in-time snapshot of the agent tree.
type TreeStatus struct {
	RootSessionID  string                          `json:"root_session_id"`
	TotalNodes     int                             `json:"total_nodes"`
	ByStatus       map[models.NodeStatus]int       `json:"by_status"`
	MaxDepth       int                             `json:"max_depth"`
	Nodes          map[string]models.AgentTreeNode `json:"nodes"`
	ExecutionOrder []string                        `json:"execution_order"`
}

// Running returns the number of running nodes.
func (s TreeStatus) Running() int {
	return s.ByStatus[models.NodeRunning]
}

// GetTreeStatus computes a fresh snapshot. The returned value shares no
// memory with the coordinator.
func (c *Coordinator) GetTreeStatus() TreeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := TreeStatus{
		RootSessionID: c.rootID,
		TotalNodes:    len(c.nodes),
		ByStatus: map[models.NodeStatus]int{
			models.NodeRunning:   0,
			models.NodeCompleted: 0,
			models.NodeFailed:    0,
			models.NodeCancelled: 0,
		},
		Nodes:          make(map[string]models.AgentTreeNode, len(c.nodes)),
		ExecutionOrder: append([]string{}, c.executionOrder...),
	}
	for id, n := range c.nodes {
		status.ByStatus[n.Status]++
		if n.Depth > status.MaxDepth {
			status.MaxDepth = n.Depth
		}
		status.Nodes[id] = n.Clone()
	}
	return status
}
