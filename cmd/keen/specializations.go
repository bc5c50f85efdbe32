package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/specialization"
	"github.com/keenhq/keen/pkg/models"
)

var specializationsCmd = &cobra.Command{
	Use:   "specializations [name]",
	Short: "Describe agent specializations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs := specialization.All()
		if len(args) == 1 {
			s := models.Specialization(strings.ToLower(args[0]))
			if !s.Valid() {
				return fmt.Errorf("unknown specialization %q", args[0])
			}
			specs = []models.Specialization{s}
		}

		for i, s := range specs {
			if i > 0 {
				fmt.Println()
			}
			ctx := specialization.Lookup(s)
			fmt.Printf("%s  %s\n", color.New(color.Bold).Sprint(s), ctx.Focus)
			fmt.Printf("  tools: %s\n", color.CyanString(strings.Join(ctx.Tools, ", ")))
			for _, r := range ctx.Responsibilities {
				fmt.Printf("  - %s\n", r)
			}
		}
		return nil
	},
}
