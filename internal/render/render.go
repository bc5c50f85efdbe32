// Package render draws agent trees, run reports and session listings for
// the terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/keenhq/keen/internal/plan"
	"github.com/keenhq/keen/internal/state"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/pkg/models"
)

// Styles holds the styles used by the render functions.
type Styles struct {
	Running   lipgloss.Style
	Completed lipgloss.Style
	Failed    lipgloss.Style
	Cancelled lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Header    lipgloss.Style
	Muted     lipgloss.Style
	Box       lipgloss.Style
}

// DefaultStyles returns the standard color scheme.
func DefaultStyles() Styles {
	return Styles{
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Completed: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Cancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),
		Value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			MarginBottom(1),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// Status returns the style for a node status.
func (s Styles) Status(status models.NodeStatus) lipgloss.Style {
	switch status {
	case models.NodeRunning:
		return s.Running
	case models.NodeCompleted:
		return s.Completed
	case models.NodeFailed:
		return s.Failed
	case models.NodeCancelled:
		return s.Cancelled
	default:
		return s.Muted
	}
}

// Tree renders the tree in status depth-first, one styled line per node.
func Tree(status tree.TreeStatus, s Styles) string {
	root, ok := status.Nodes[status.RootSessionID]
	if !ok {
		return s.Muted.Render(tree.NoTreeMessage)
	}

	var lines []string
	var walk func(n models.AgentTreeNode)
	walk = func(n models.AgentTreeNode) {
		lines = append(lines, s.Status(n.Status).Render(tree.FormatNodeLine(&n)))
		for _, id := range n.Children {
			if child, ok := status.Nodes[id]; ok {
				walk(child)
			}
		}
	}
	walk(root)
	return strings.Join(lines, "\n")
}

// Report renders a run summary box.
func Report(r *plan.Report, s Styles) string {
	row := func(label, value string) string {
		return s.Label.Render(label) + s.Value.Render(value)
	}
	rows := []string{
		row("Root", r.RootID),
		row("Agents", fmt.Sprintf("%d", r.Total)),
		row("Completed", s.Completed.Render(fmt.Sprintf("%d", r.Completed))),
		row("Failed", s.Failed.Render(fmt.Sprintf("%d", r.Failed))),
		row("Cancelled", s.Cancelled.Render(fmt.Sprintf("%d", r.Cancelled))),
		row("Max depth", fmt.Sprintf("%d", r.MaxDepth)),
		row("Duration", r.Duration.Round(time.Millisecond).String()),
	}
	if r.Skipped > 0 {
		rows = append(rows, row("Skipped", fmt.Sprintf("%d", r.Skipped)))
	}
	for _, mf := range r.MergeFailures {
		detail := mf.Error
		if len(mf.Conflicts) > 0 {
			detail = "conflicts in " + strings.Join(mf.Conflicts, ", ")
		}
		rows = append(rows, s.Failed.Render(fmt.Sprintf("merge %s -> %s failed: %s", mf.Branch, mf.Into, detail)))
	}
	return s.Box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Sessions renders persisted sessions indented by depth, as stored.
func Sessions(sessions []state.AgentSession, s Styles) string {
	if len(sessions) == 0 {
		return s.Muted.Render("No sessions recorded")
	}
	lines := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		line := fmt.Sprintf("%s%s [%s] %s %s (%s)",
			strings.Repeat("  ", sess.Depth),
			tree.StatusIcon(sess.ExecutionStatus),
			sess.ExecutionStatus,
			sess.Specialization,
			sess.GitBranch,
			sess.ID)
		if sess.Vision != "" {
			line += " " + s.Muted.Render(truncate(sess.Vision, 60))
		}
		lines = append(lines, s.Status(sess.ExecutionStatus).Render(line))
	}
	return strings.Join(lines, "\n")
}

// Interrupted renders trees left running by an earlier process.
func Interrupted(trees []state.InterruptedTree, s Styles) string {
	if len(trees) == 0 {
		return s.Muted.Render("No interrupted agent trees")
	}
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%d interrupted agent tree(s)", len(trees))))
	b.WriteString("\n")
	for _, t := range trees {
		fmt.Fprintf(&b, "%s  started %s, last activity %s, %d running\n",
			s.Value.Render(t.RootID),
			t.StartedAt.Format(time.RFC3339),
			t.LastActivity.Format(time.RFC3339),
			len(t.Running))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
