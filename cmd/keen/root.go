package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	repoFlag    string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "keen",
	Short: "Agent tree coordination engine",
	Long: `Keen coordinates a tree of agents working on one vision.

Each agent works on its own git branch. A parent runs at most one child at a
time, and every child is merged back into its parent's branch when it
finishes, so siblings always build on each other's work.

Core capabilities:
- Replays agent plans against a real repository (keen simulate)
- Mirrors every agent session to SQLite for inspection and recovery
- Cancels running agents from another terminal (keen cancel)`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "Repository the agent tree works in")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log to stderr as well as the debug log")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(specializationsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
