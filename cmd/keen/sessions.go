package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/render"
	"github.com/keenhq/keen/internal/state"
)

var (
	sessionsAll  bool
	sessionsUser string
	sessionsJSON bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [root-id]",
	Short: "Show mirrored agent sessions",
	Long: `Show agent sessions recorded in the state database.

Without arguments, lists the root session of every recorded tree.
With a root ID, shows that tree depth-first.

Examples:
  keen sessions                 # List recorded trees
  keen sessions 6f1c...         # Show one tree
  keen sessions --all --user me # Every session owned by user "me"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsAll, "all", false, "List every session instead of roots only")
	sessionsCmd.Flags().StringVar(&sessionsUser, "user", "", "Only sessions owned by this user (with --all)")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print sessions as JSON")
}

func runSessions(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	db, err := e.openState(true)
	if errors.Is(err, errNoState) {
		fmt.Println("No sessions recorded. Run 'keen simulate <plan>' to start.")
		return nil
	}
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	var sessions []state.AgentSession
	switch {
	case len(args) == 1:
		sessions, err = db.ListTree(ctx, args[0])
		if err == nil && len(sessions) == 0 {
			return fmt.Errorf("no tree rooted at %s", args[0])
		}
	case sessionsAll:
		sessions, err = db.ListSessions(ctx, sessionsUser)
	default:
		sessions, err = db.ListRoots(ctx)
	}
	if err != nil {
		return err
	}

	if sessionsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	styles := render.DefaultStyles()
	if len(args) == 0 && !sessionsAll {
		return printRoots(sessions, styles)
	}
	fmt.Println(render.Sessions(sessions, styles))
	return nil
}

func printRoots(roots []state.AgentSession, styles render.Styles) error {
	if len(roots) == 0 {
		fmt.Println(render.Sessions(nil, styles))
		return nil
	}
	for _, r := range roots {
		ended := "-"
		if r.EndTime != nil {
			ended = r.EndTime.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("%-36s  %-9s  %-10s  started %s  ended %s",
			r.ID, r.ExecutionStatus, r.UserID, r.StartedAt.Local().Format(time.DateTime), ended)
		fmt.Println(styles.Status(r.ExecutionStatus).Render(line))
	}
	return nil
}
