package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keenhq/keen/internal/state"
	"github.com/keenhq/keen/pkg/models"
)

func TestUpdateGitignore(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{name: "no file", want: "\n# keen\n.keen/\n"},
		{name: "missing newline", existing: "bin", want: "bin\n\n# keen\n.keen/\n"},
		{name: "already present", existing: "bin\n.keen/\n", want: "bin\n.keen/\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tt.existing != "" {
				if err := os.WriteFile(path, []byte(tt.existing), 0644); err != nil {
					t.Fatal(err)
				}
			}
			if err := updateGitignore(dir); err != nil {
				t.Fatalf("updateGitignore: %v", err)
			}
			if err := updateGitignore(dir); err != nil {
				t.Fatalf("second updateGitignore: %v", err)
			}
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf(".gitignore = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"", "(not set)"},
		{"main", "main"},
		{3, "3"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBranchOr(t *testing.T) {
	if got := branchOr("", "main"); got != "main" {
		t.Errorf("branchOr(\"\") = %q", got)
	}
	if got := branchOr("trunk", "main"); got != "trunk" {
		t.Errorf("branchOr(trunk) = %q", got)
	}
}

func TestSimulateEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KEEN_TENANT_USER_ID", "tester")

	dir := t.TempDir()
	gitRun := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	gitRun("init", "-b", "main")
	gitRun("config", "user.email", "test@example.com")
	gitRun("config", "user.name", "Test")
	gitRun("commit", "--allow-empty", "-m", "seed")

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	doc := `
root:
  id: root
  vision: Build the service
children:
  - id: api
    specialization: backend
    vision: API
    files:
      api.txt: "api\n"
  - id: ui
    specialization: frontend
    vision: UI
    files:
      ui.txt: "ui\n"
`
	if err := os.WriteFile(planPath, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	oldRepo, oldQuiet := repoFlag, simulateQuiet
	repoFlag, simulateQuiet = dir, true
	defer func() { repoFlag, simulateQuiet = oldRepo, oldQuiet }()

	if err := runSimulate(simulateCmd, []string{planPath}); err != nil {
		t.Fatalf("runSimulate: %v", err)
	}

	for _, f := range []string{"api.txt", "ui.txt"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("%s not merged into main: %v", f, err)
		}
	}

	db, err := state.Open("", state.ProjectDBPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	sessions, err := db.ListTree(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range sessions {
		got = append(got, s.ID+"="+string(s.ExecutionStatus)+"@"+s.UserID)
		if s.ExecutionStatus != models.NodeCompleted {
			t.Errorf("session %s is %s", s.ID, s.ExecutionStatus)
		}
	}
	want := "root=completed@tester,api=completed@tester,ui=completed@tester"
	if strings.Join(got, ",") != want {
		t.Errorf("sessions = %s, want %s", strings.Join(got, ","), want)
	}
}
