package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify keen configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the project config.

User configuration is read from ~/.config/keen/config.yaml.
Project overrides live in .keen.yaml and environment overrides use
KEEN_<SECTION>_<KEY>, e.g. KEEN_TREE_MAX_DEPTH=3.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := filepath.Abs(repoFlag)
		if err != nil {
			return fmt.Errorf("resolving repository path: %w", err)
		}

		if len(args) == 2 {
			return setConfigKey(repo, args[0], args[1])
		}

		keys, values, err := config.Settings(repo)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			key := strings.ToLower(args[0])
			v, ok := values[key]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			fmt.Println(formatValue(v))
			return nil
		}
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, formatValue(values[k]))
		}
		return nil
	},
}

// setConfigKey writes key into the nearest project config, creating
// .keen.yaml in the repository when there is none.
func setConfigKey(repo, key, value string) error {
	path := config.GetProjectConfigPath(repo)
	if path == "" {
		path = filepath.Join(repo, config.ProjectConfigName)
	}
	if err := config.SetProjectValue(path, key, value); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Set %s = %s in %s", key, value, path), color.FgGreen)
	return nil
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" {
		return "(not set)"
	}
	return s
}

// configExists reports whether path is a regular file.
func configExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
