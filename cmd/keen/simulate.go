package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/config"
	"github.com/keenhq/keen/internal/git"
	"github.com/keenhq/keen/internal/plan"
	"github.com/keenhq/keen/internal/render"
	"github.com/keenhq/keen/internal/signals"
	"github.com/keenhq/keen/internal/state"
	"github.com/keenhq/keen/internal/tree"
	"github.com/keenhq/keen/internal/tui"
	"github.com/keenhq/keen/pkg/models"
)

var (
	simulateNoPersist   bool
	simulateMetricsFile string
	simulateMaxDepth    int
	simulateQuiet       bool
	simulateTUI         bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <plan.yaml>",
	Short: "Replay an agent plan against the repository",
	Long: `Replay an agent plan against the repository.

A plan is a YAML tree of agents. Each agent gets its own branch, commits the
files it lists, waits for its work duration, spawns its children one at a
time, and finishes with its outcome. Finished agents are merged into their
parent's branch.

Running agents can be cancelled from another terminal with 'keen cancel'.
Interrupting the run (Ctrl-C) cancels every running agent. With --tui the
tree and event log are shown live; q interrupts the run and exits once it
has stopped.

Example plan:
  root:
    vision: Build a todo service
  children:
    - specialization: backend
      vision: HTTP API
      files:
        api/server.go: "package api\n"
      children:
        - specialization: testing
          vision: API tests
          outcome: failure`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().BoolVar(&simulateNoPersist, "no-persist", false, "Do not mirror sessions to the state database")
	simulateCmd.Flags().StringVar(&simulateMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the run ends")
	simulateCmd.Flags().IntVar(&simulateMaxDepth, "max-depth", -1, "Override tree.max_depth (0 for unlimited)")
	simulateCmd.Flags().BoolVarP(&simulateQuiet, "quiet", "q", false, "Only print the final tree and report")
	simulateCmd.Flags().BoolVar(&simulateTUI, "tui", false, "Show the run in a live terminal view")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if !git.IsRepository(e.repo) {
		return fmt.Errorf("%s is not a git repository; run 'keen init' first", e.repo)
	}
	rootBranch, err := git.HeadBranch(e.repo)
	if err != nil {
		return err
	}
	if rootBranch == "" {
		rootBranch = e.cfg.Git.DefaultBranch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := prometheus.NewRegistry()
	maxDepth := e.cfg.Tree.MaxDepth
	if simulateMaxDepth >= 0 {
		maxDepth = simulateMaxDepth
	}
	adapter := git.NewAdapter(nil)
	opts := []tree.Option{
		tree.WithLogger(e.logger),
		tree.WithMetrics(tree.NewMetrics(registry)),
		tree.WithDefaultBranch(rootBranch),
		tree.WithBranchNamer(git.NewBranchNamer(e.cfg.Git.BranchPrefix)),
		tree.WithMaxDepth(maxDepth),
	}

	if e.cfg.State.Enabled && !simulateNoPersist {
		db, err := e.openState(false)
		if err != nil {
			return err
		}
		defer db.Close()
		user := config.UserContext(e.cfg, e.repo)
		opts = append(opts, tree.WithPersistence(state.NewMirror(db, state.DefaultWriteTimeout), user))
		e.logger.Info("mirroring sessions", zap.String("path", db.Path()), zap.String("user_id", user.UserID))
	}
	coord := tree.New(adapter, opts...)

	watcher, err := signals.NewWatcher(e.repo,
		signals.WithPollInterval(e.cfg.Signals.PollInterval),
		signals.WithLogger(e.logger))
	if err != nil {
		return fmt.Errorf("watch for cancellation requests: %w", err)
	}
	defer watcher.Close()
	// Requests left over from an earlier run do not apply to this one.
	if stale := watcher.Drain(); len(stale) > 0 {
		e.logger.Warn("discarded stale cancellation requests", zap.Int("count", len(stale)))
	}

	runnerOpts := []plan.RunnerOption{
		plan.WithSignals(watcher),
		plan.WithRunnerLogger(e.logger),
	}
	title := fmt.Sprintf("Simulating %d agent(s) from %s on %s", p.Count(), args[0], rootBranch)

	var report *plan.Report
	var runErr error
	if simulateTUI {
		report, runErr = runWithTUI(ctx, cancel, title, coord, adapter, e.repo, p, runnerOpts)
	} else {
		if !simulateQuiet {
			runnerOpts = append(runnerOpts, plan.WithEvents(printEvent))
		}
		runner := plan.NewRunner(coord, adapter, e.repo, runnerOpts...)
		fmt.Printf("Simulating %d agent(s) from %s on %s\n\n", p.Count(), args[0], color.CyanString(rootBranch))
		report, runErr = runner.Run(ctx, p)
	}

	styles := render.DefaultStyles()
	fmt.Println()
	fmt.Println(render.Tree(coord.GetTreeStatus(), styles))
	if report != nil {
		fmt.Println()
		fmt.Println(render.Report(report, styles))
	}

	if simulateMetricsFile != "" {
		if err := prometheus.WriteToTextfile(simulateMetricsFile, registry); err != nil {
			e.logger.Error("write metrics", zap.String("path", simulateMetricsFile), zap.Error(err))
			printStatus("✗", fmt.Sprintf("Could not write metrics: %v", err), color.FgRed)
		} else {
			printStatus("✓", "Metrics written to "+simulateMetricsFile, color.FgGreen)
		}
	}

	if runErr != nil {
		return runErr
	}
	if report != nil && (report.Failed > 0 || len(report.MergeFailures) > 0) {
		return fmt.Errorf("%d agent(s) failed, %d merge(s) failed", report.Failed, len(report.MergeFailures))
	}
	return nil
}

// runWithTUI runs p while a bubbletea program shows its progress. The view
// stays up after the run until the user quits.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, title string, coord *tree.Coordinator,
	ws plan.Workspace, repo string, p *plan.Plan, opts []plan.RunnerOption) (*plan.Report, error) {
	program := tea.NewProgram(tui.New(title, render.DefaultStyles(), cancel), tea.WithAltScreen())

	opts = append(opts, plan.WithEvents(func(ev plan.Event) {
		program.Send(tui.EventMsg{Event: ev, Status: coord.GetTreeStatus(), At: time.Now()})
	}))
	runner := plan.NewRunner(coord, ws, repo, opts...)

	type result struct {
		report *plan.Report
		err    error
	}
	runDone := make(chan result, 1)
	go func() {
		report, err := runner.Run(ctx, p)
		program.Send(tui.DoneMsg{Report: report, Status: coord.GetTreeStatus(), Err: err})
		runDone <- result{report, err}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		res := <-runDone
		return res.report, fmt.Errorf("terminal view: %w", err)
	}
	// The view quits on its own only after DoneMsg.
	cancel()
	res := <-runDone
	return res.report, res.err
}

// printEvent prints one runner event as an indented status line.
func printEvent(ev plan.Event) {
	indent := strings.Repeat("  ", ev.Depth)
	short := ev.SessionID
	if len(short) > 8 {
		short = short[:8]
	}

	switch ev.Kind {
	case plan.EventSpawned:
		fmt.Printf("%s%s %s on %s  %s\n", indent, color.CyanString("+"), short, color.CyanString(ev.Branch), ev.Message)
	case plan.EventPhase:
		fmt.Printf("%s  %s %s\n", indent, color.HiBlackString("·"), color.HiBlackString(string(ev.Phase)))
	case plan.EventCommitted:
		fmt.Printf("%s  %s committed %s\n", indent, color.BlueString("●"), ev.Message)
	case plan.EventFinished:
		icon := tree.StatusIcon(ev.Status)
		c := color.GreenString
		if ev.Status != models.NodeCompleted {
			c = color.RedString
		}
		fmt.Printf("%s%s %s %s\n", indent, c(icon), short, ev.Status)
	case plan.EventMergeFailed:
		fmt.Printf("%s%s %s\n", indent, color.RedString("!"), ev.Message)
	case plan.EventCancelled:
		fmt.Printf("%s%s %s cancelled: %s\n", indent, color.YellowString(tree.StatusIcon(models.NodeCancelled)), short, ev.Message)
	case plan.EventSkipped:
		fmt.Printf("%s%s skipped (depth limit): %s\n", indent, color.YellowString("⚠"), ev.Message)
	case plan.EventSignalIgnored:
		fmt.Printf("%s cancellation for %s ignored: %s\n", color.YellowString("⚠"), ev.SessionID, ev.Message)
	}
}
