package tui

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenhq/keen/internal/plan"
	"github.com/keenhq/keen/internal/render"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/pkg/models"
)

type nopVCS struct{}

func (nopVCS) Checkout(context.Context, string, string, bool) error { return nil }
func (nopVCS) Merge(context.Context, string, string, string) error  { return nil }

func plainStyles() render.Styles {
	s := render.DefaultStyles()
	plain := lipgloss.NewStyle()
	s.Running, s.Completed, s.Failed, s.Cancelled, s.Muted, s.Value, s.Header = plain, plain, plain, plain, plain, plain, plain
	s.Label = plain.Width(16)
	return s
}

// sampleTree returns a coordinator with root and a running child api.
func sampleTree(t *testing.T) *tree.Coordinator {
	t.Helper()
	ctx := context.Background()
	c := tree.New(nopVCS{})
	_, err := c.InitializeRoot(ctx, "root", models.SpecializationGeneral, "/repo")
	require.NoError(t, err)
	_, err = c.AddChild(ctx, "root", "api", models.SpawnRequest{
		Specialization: models.SpecializationBackend,
		GitBranch:      "keen/agent-1",
	})
	require.NoError(t, err)
	return c
}

func send(a *App, msg tea.Msg) tea.Cmd {
	_, cmd := a.Update(msg)
	return cmd
}

func TestApp_EventsUpdateTreeAndLog(t *testing.T) {
	c := sampleTree(t)
	a := New("Simulating 2 agent(s)", plainStyles(), nil)

	send(a, EventMsg{
		Event:  plan.Event{Kind: plan.EventSpawned, SessionID: "api", Depth: 1, Branch: "keen/agent-1", Message: "HTTP API"},
		Status: c.GetTreeStatus(),
		At:     time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC),
	})

	view := a.View()
	assert.Contains(t, view, "Simulating 2 agent(s)")
	assert.Contains(t, view, "[running] backend")
	assert.Contains(t, view, "09:30:00   + api on keen/agent-1  HTTP API")
	assert.Contains(t, view, "q interrupt")
	assert.False(t, a.Done())
}

func TestApp_InterruptCancelsRunningPlan(t *testing.T) {
	cancelled := 0
	a := New("run", plainStyles(), func() { cancelled++ })

	cmd := send(a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd, "a running plan must not quit the view")
	assert.Equal(t, 1, cancelled)

	send(a, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled, "cancel runs once")
	assert.Contains(t, a.View(), "waiting for the run to stop")

	send(a, DoneMsg{Err: context.Canceled})
	cmd = send(a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestApp_DoneShowsReport(t *testing.T) {
	c := sampleTree(t)
	require.NoError(t, c.CompleteChild(context.Background(), "api", models.CompletionResult{Success: true}, ""))
	a := New("run", plainStyles(), nil)

	send(a, DoneMsg{
		Report: &plan.Report{RootID: "root", Total: 2, Completed: 1},
		Status: c.GetTreeStatus(),
	})

	view := a.View()
	assert.True(t, a.Done())
	assert.Contains(t, view, "[completed] backend")
	assert.Contains(t, view, "Agents")
	assert.Contains(t, view, "press q to exit")
	assert.Nil(t, send(a, a.spinner.Tick()), "spinner stops once done")
}

func TestApp_RunErrorIsShown(t *testing.T) {
	a := New("run", plainStyles(), nil)
	send(a, DoneMsg{Err: fmt.Errorf("checkout root branch: boom")})
	assert.Contains(t, a.View(), "Run failed: checkout root branch: boom")
}

func TestApp_LogFitsWindow(t *testing.T) {
	a := New("run", plainStyles(), nil)
	send(a, tea.WindowSizeMsg{Width: 80, Height: 7})
	for i := 0; i < 10; i++ {
		send(a, EventMsg{Event: plan.Event{Kind: plan.EventPhase, SessionID: fmt.Sprintf("agent-%d", i), Phase: models.PhasePlan}})
	}

	logs := a.visibleLogs()
	require.Len(t, logs, 3)
	assert.Contains(t, logs[2].text, "agent-9")
}

func TestApp_LogIsBounded(t *testing.T) {
	a := New("run", plainStyles(), nil)
	for i := 0; i < maxLogs+10; i++ {
		send(a, EventMsg{Event: plan.Event{Kind: plan.EventCommitted, SessionID: "api", Message: fmt.Sprint(i)}})
	}
	require.Len(t, a.logs, maxLogs)
	assert.Contains(t, a.logs[0].text, "committed 10")
}
