package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/git"
)

var branchesAll bool

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List agent branches",
	Long: `List the git branches created for agents (those under git.branch_prefix).
Use --all to list every local branch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		prefix := e.cfg.Git.BranchPrefix
		if branchesAll {
			prefix = ""
		}
		branches, err := git.ListBranches(e.repo, prefix)
		if err != nil {
			return err
		}
		if len(branches) == 0 {
			fmt.Println("No agent branches")
			return nil
		}
		for _, b := range branches {
			marker := " "
			name := b.Name
			if b.Current {
				marker = "*"
				name = color.GreenString(name)
			}
			when := ""
			if !b.When.IsZero() {
				when = b.When.Local().Format(time.DateTime)
			}
			fmt.Printf("%s %-30s %s %s  %s\n", marker, name, color.YellowString(b.Hash), when, b.Subject)
		}
		return nil
	},
}

func init() {
	branchesCmd.Flags().BoolVar(&branchesAll, "all", false, "List every local branch")
}
