package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/render"
	"github.com/keenhq/keen/internal/state"
)

var (
	recoverClean bool
	recoverPurge time.Duration
)

var recoverCmd = &cobra.Command{
	Use:   "recover [root-id...]",
	Short: "Find and close out interrupted agent trees",
	Long: `Find agent trees whose sessions were left running by a process that exited
before finishing them.

With --clean, the running sessions of the listed trees (or of every
interrupted tree when none are listed) are marked cancelled.
With --purge, finished sessions older than the given age are deleted.

Examples:
  keen recover                 # List interrupted trees
  keen recover --clean         # Cancel every interrupted tree
  keen recover --purge 720h    # Delete finished sessions older than 30 days`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverClean, "clean", false, "Mark running sessions of interrupted trees as cancelled")
	recoverCmd.Flags().DurationVar(&recoverPurge, "purge", 0, "Delete finished sessions older than this age")
}

func runRecover(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	db, err := e.openState(true)
	if errors.Is(err, errNoState) {
		fmt.Println("No sessions recorded.")
		return nil
	}
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	rm := state.NewRecoveryManager(db)
	trees, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		return err
	}

	if !recoverClean {
		fmt.Println(render.Interrupted(trees, render.DefaultStyles()))
	} else {
		roots := args
		if len(roots) == 0 {
			for _, t := range trees {
				roots = append(roots, t.RootID)
			}
		}
		if len(roots) == 0 {
			fmt.Println("No interrupted agent trees")
		}
		for _, id := range roots {
			n, err := rm.Clean(ctx, id, "interrupted: closed by keen recover")
			if err != nil {
				printStatus("✗", fmt.Sprintf("%s: %v", id, err), color.FgRed)
				continue
			}
			e.logger.Info("interrupted tree cleaned", zap.String("root_id", id), zap.Int("sessions", n))
			printStatus("✓", fmt.Sprintf("%s: cancelled %d running session(s)", id, n), color.FgGreen)
		}
	}

	if recoverPurge > 0 {
		n, err := db.PurgeOldSessions(ctx, recoverPurge)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Purged %d finished session(s) older than %s", n, recoverPurge), color.FgGreen)
	}
	return nil
}
