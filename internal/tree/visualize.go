package tree

import (
	"fmt"
	"strings"

	"github.com/keenhq/keen/pkg/models"
)

// NoTreeMessage is returned by GetTreeVisualization before a root exists.
const NoTreeMessage = "No agent tree initialized"

var statusIcons = map[models.NodeStatus]string{
	models.NodeRunning:   "▶",
	models.NodeCompleted: "✓",
	models.NodeFailed:    "✗",
	models.NodeCancelled: "⊘",
}

// StatusIcon returns the glyph used for status in visualizations.
func StatusIcon(status models.NodeStatus) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}
	return "?"
}

// GetTreeVisualization renders the tree depth-first from the root, one
// line per node, children in spawn order, indented two spaces per level.
func (c *Coordinator) GetTreeVisualization() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	root, ok := c.nodes[c.rootID]
	if !ok {
		return NoTreeMessage
	}

	var b strings.Builder
	var walk func(n *models.AgentTreeNode)
	walk = func(n *models.AgentTreeNode) {
		b.WriteString(FormatNodeLine(n))
		b.WriteByte('\n')
		for _, id := range n.Children {
			if child, ok := c.nodes[id]; ok {
				walk(child)
			}
		}
	}
	walk(root)
	return strings.TrimSuffix(b.String(), "\n")
}

// FormatNodeLine formats one node the way GetTreeVisualization does.
func FormatNodeLine(n *models.AgentTreeNode) string {
	return fmt.Sprintf("%s%s [%s] %s %s %s (%s)",
		strings.Repeat("  ", n.Depth),
		StatusIcon(n.Status),
		n.Status,
		n.Specialization,
		n.Phase,
		n.GitBranch,
		n.SessionID,
	)
}
