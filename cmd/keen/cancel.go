package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/signals"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id> [reason...]",
	Short: "Cancel a running agent and its descendants",
	Long: `Ask the running 'keen simulate' in this repository to cancel an agent.

The agent and every running descendant are stopped, their work is not
merged, and the parent continues with its next child.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		reason := strings.Join(args[1:], " ")
		if reason == "" {
			reason = "cancelled by user"
		}
		if err := signals.RequestCancel(e.repo, args[0], reason); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Cancellation requested for %s", args[0]), color.FgGreen)
		return nil
	},
}
