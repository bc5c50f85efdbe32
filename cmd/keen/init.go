package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	gogit "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/keenhq/keen/internal/config"
	"github.com/keenhq/keen/internal/git"
	"github.com/keenhq/keen/internal/signals"
)

var (
	initForce bool
	initNoGit bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a keen project",
	Long: `Initialize a directory for use with keen.

This command:
  - Verifies git is installed
  - Initializes a git repository with an initial commit if needed
  - Creates the .keen directory (logs, signals, state)
  - Writes a .keen.yaml project config
  - Adds .keen/ to .gitignore

Examples:
  keen init              # Initialize current directory
  keen init ./myproject  # Initialize specific directory
  keen init --force      # Rewrite .keen.yaml even if it exists`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing keen in %s...\n\n", absPath)

	configPath := filepath.Join(absPath, config.ProjectConfigName)
	if configExists(configPath) && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	if !initNoGit {
		if err := initGitRepo(cmd.Context(), absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	for _, dir := range []string{filepath.Join(absPath, ".keen", "logs"), signals.Dir(absPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .keen directory structure", color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	cfg := config.Default()
	if branch, err := git.HeadBranch(absPath); err == nil && branch != "" {
		cfg.Git.DefaultBranch = branch
	}
	if err := config.SaveProject(absPath, cfg); err != nil {
		return fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
	}
	printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)

	fmt.Printf("\n%s keen initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  keen simulate plan.yaml    # replay an agent plan")
	fmt.Println("  keen sessions              # inspect recorded sessions")
	fmt.Println()
	fmt.Printf("  Root branch: %s\n", cfg.Git.DefaultBranch)
	fmt.Printf("  User: %s (%s)\n", config.UserContext(cfg, absPath).UserID, config.GetUserSource(cfg, absPath))
	return nil
}

// checkGitInstalled checks if git is installed
func checkGitInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"keen requires git to give each agent its own branch.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes the repository and makes sure HEAD has a commit
// for agent branches to start from.
func initGitRepo(ctx context.Context, repoPath string) error {
	if !git.IsRepository(repoPath) {
		if _, err := gogit.PlainInitWithOptions(repoPath, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: "refs/heads/main"},
		}); err != nil {
			return fmt.Errorf("git init failed: %w", err)
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	branch, err := git.HeadBranch(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}
	if hasCommits(repoPath) {
		printStatus("✓", "Git repository has commits", color.FgGreen)
		return nil
	}

	if err := updateGitignore(repoPath); err != nil {
		return fmt.Errorf("creating .gitignore: %w", err)
	}
	r := git.NewRunner(repoPath)
	if err := r.Add(ctx, ".gitignore"); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	if err := r.Commit(ctx, "Initial commit"); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	printStatus("✓", fmt.Sprintf("Created initial commit on %s", branchOr(branch, "main")), color.FgGreen)
	return nil
}

func hasCommits(repoPath string) bool {
	repo, err := gogit.PlainOpenWithOptions(repoPath, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return false
	}
	_, err = repo.Head()
	return err == nil
}

func branchOr(branch, fallback string) string {
	if branch == "" {
		return fallback
	}
	return branch
}

// updateGitignore adds the keen directory to .gitignore if not present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}
	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == ".keen/" {
			return nil
		}
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# keen\n.keen/\n")
	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}
