package models

import (
	"testing"
	"time"
)

func TestNodeStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status NodeStatus
		want   bool
	}{
		{"running is valid", NodeRunning, true},
		{"completed is valid", NodeCompleted, true},
		{"failed is valid", NodeFailed, true},
		{"cancelled is valid", NodeCancelled, true},
		{"empty string is invalid", NodeStatus(""), false},
		{"british spelling only", NodeStatus("canceled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("NodeStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNodeStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status NodeStatus
		want   bool
	}{
		{NodeRunning, false},
		{NodeCompleted, true},
		{NodeFailed, true},
		{NodeCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgentTreeNode_Clone(t *testing.T) {
	end := time.Now()
	orig := AgentTreeNode{
		SessionID: "root",
		Children:  []string{"a", "b"},
		EndTime:   &end,
		Result:    &CompletionResult{Success: true, FilesChanged: []string{"x.go"}},
	}

	c := orig.Clone()
	c.Children[0] = "changed"
	c.Result.FilesChanged[0] = "y.go"
	*c.EndTime = end.Add(time.Hour)

	if orig.Children[0] != "a" {
		t.Errorf("clone shares Children with original")
	}
	if orig.Result.FilesChanged[0] != "x.go" {
		t.Errorf("clone shares Result.FilesChanged with original")
	}
	if !orig.EndTime.Equal(end) {
		t.Errorf("clone shares EndTime with original")
	}
}

func TestAgentTreeNode_IsRoot(t *testing.T) {
	root := AgentTreeNode{SessionID: "r"}
	child := AgentTreeNode{SessionID: "c", ParentID: "r"}
	if !root.IsRoot() {
		t.Error("node without parent should be root")
	}
	if child.IsRoot() {
		t.Error("node with parent should not be root")
	}
}
