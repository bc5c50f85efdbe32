// Package tui provides a live terminal view of a plan run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/keenhq/keen/internal/plan"
	"github.com/keenhq/keen/internal/render"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/pkg/models"
)

// maxLogs bounds the event log kept in memory.
const maxLogs = 500

// EventMsg carries one runner event and the tree as it stood afterwards.
type EventMsg struct {
	Event  plan.Event
	Status tree.TreeStatus
	At     time.Time
}

// DoneMsg signals that the run has returned.
type DoneMsg struct {
	Report *plan.Report
	Status tree.TreeStatus
	Err    error
}

// logEntry is one line of the event log.
type logEntry struct {
	at    time.Time
	depth int
	text  string
	style lipgloss.Style
}

// App is the bubbletea model for a running plan.
type App struct {
	title   string
	styles  render.Styles
	spinner spinner.Model
	cancel  context.CancelFunc

	status tree.TreeStatus
	logs   []logEntry
	report *plan.Report
	err    error

	width       int
	height      int
	done        bool
	interrupted bool
}

// New creates an App. cancel is called when the user interrupts a run
// that is still going; it may be nil.
func New(title string, styles render.Styles, cancel context.CancelFunc) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Running
	return &App{
		title:   title,
		styles:  styles,
		spinner: sp,
		cancel:  cancel,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if a.done {
				return a, tea.Quit
			}
			if !a.interrupted {
				a.interrupted = true
				a.addLog(time.Now(), 0, "interrupting run, cancelling running agents", a.styles.Cancelled)
				if a.cancel != nil {
					a.cancel()
				}
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case EventMsg:
		a.status = msg.Status
		a.handleEvent(msg)

	case DoneMsg:
		a.done = true
		a.report = msg.Report
		a.err = msg.Err
		if msg.Status.Nodes != nil {
			a.status = msg.Status
		}

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// handleEvent turns a runner event into a log line.
func (a *App) handleEvent(msg EventMsg) {
	ev := msg.Event
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	short := shortID(ev.SessionID)

	switch ev.Kind {
	case plan.EventSpawned:
		a.addLog(at, ev.Depth, fmt.Sprintf("+ %s on %s  %s", short, ev.Branch, ev.Message), a.styles.Running)
	case plan.EventPhase:
		a.addLog(at, ev.Depth, fmt.Sprintf("  %s %s", short, ev.Phase), a.styles.Muted)
	case plan.EventCommitted:
		a.addLog(at, ev.Depth, fmt.Sprintf("  %s committed %s", short, ev.Message), a.styles.Value)
	case plan.EventFinished:
		a.addLog(at, ev.Depth, fmt.Sprintf("%s %s %s", tree.StatusIcon(ev.Status), short, ev.Status), a.styles.Status(ev.Status))
	case plan.EventMergeFailed:
		a.addLog(at, ev.Depth, "! "+ev.Message, a.styles.Failed)
	case plan.EventCancelled:
		a.addLog(at, ev.Depth, fmt.Sprintf("%s %s cancelled: %s", tree.StatusIcon(models.NodeCancelled), short, ev.Message), a.styles.Cancelled)
	case plan.EventSkipped:
		a.addLog(at, ev.Depth, "skipped (depth limit): "+ev.Message, a.styles.Cancelled)
	case plan.EventSignalIgnored:
		a.addLog(at, 0, fmt.Sprintf("cancellation for %s ignored: %s", ev.SessionID, ev.Message), a.styles.Cancelled)
	}
}

func (a *App) addLog(at time.Time, depth int, text string, style lipgloss.Style) {
	a.logs = append(a.logs, logEntry{at: at, depth: depth, text: text, style: style})
	if len(a.logs) > maxLogs {
		a.logs = a.logs[len(a.logs)-maxLogs:]
	}
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	header := a.title
	if !a.done {
		header = a.spinner.View() + " " + header
	}
	b.WriteString(a.styles.Header.Render(header))
	b.WriteString("\n")

	b.WriteString(render.Tree(a.status, a.styles))
	b.WriteString("\n\n")

	if a.done {
		if a.report != nil {
			b.WriteString(render.Report(a.report, a.styles))
			b.WriteString("\n")
		}
		if a.err != nil {
			b.WriteString(a.styles.Failed.Render("Run failed: " + a.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString(a.styles.Muted.Render("press q to exit"))
		return b.String()
	}

	for _, e := range a.visibleLogs() {
		line := a.styles.Muted.Render(e.at.Format("15:04:05")) + " " +
			strings.Repeat("  ", e.depth) + e.style.Render(e.text)
		b.WriteString(line)
		b.WriteString("\n")
	}
	if a.interrupted {
		b.WriteString(a.styles.Cancelled.Render("waiting for the run to stop..."))
	} else {
		b.WriteString(a.styles.Muted.Render("q interrupt"))
	}
	return b.String()
}

// visibleLogs returns the tail of the log that fits below the tree.
func (a *App) visibleLogs() []logEntry {
	if a.height <= 0 {
		return a.logs
	}
	used := 4 + len(a.status.Nodes)
	room := a.height - used
	if room < 1 {
		room = 1
	}
	if len(a.logs) <= room {
		return a.logs
	}
	return a.logs[len(a.logs)-room:]
}

// Done reports whether the run has returned.
func (a *App) Done() bool {
	return a.done
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
