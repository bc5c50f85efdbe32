// Package plan describes agent trees as YAML and replays them against a
// tree.Coordinator, standing in for the agent runtime that would normally
// decide when to spawn, what to write, and how each agent finishes.
package plan

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/keenhq/keen/internal/protect"
	"github.com/keenhq/keen/pkg/models"
)

// Outcome is how a simulated agent finishes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Node is one agent in a plan.
type Node struct {
	// ID fixes the session ID. Empty IDs are generated.
	ID             string                `yaml:"id,omitempty"`
	Specialization models.Specialization `yaml:"specialization"`
	Vision         string                `yaml:"vision"`
	Outcome        Outcome               `yaml:"outcome,omitempty"`
	Summary        string                `yaml:"summary,omitempty"`
	// Work is how long the agent works before finishing.
	Work          time.Duration     `yaml:"work,omitempty"`
	Files         map[string]string `yaml:"files,omitempty"`
	MaxIterations int               `yaml:"max_iterations,omitempty"`
	CostBudget    float64           `yaml:"cost_budget,omitempty"`
	Children      []Node            `yaml:"children,omitempty"`
}

// Plan is a root agent and the tree it spawns.
type Plan struct {
	Root Node `yaml:"root"`
	// Children are appended to Root.Children.
	Children []Node `yaml:"children,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p.Root.Children = append(p.Root.Children, p.Children...)
	p.Children = nil

	applyDefaults(&p.Root)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func applyDefaults(n *Node) {
	if n.Specialization == "" {
		n.Specialization = models.SpecializationGeneral
	}
	if n.Outcome == "" {
		n.Outcome = OutcomeSuccess
	}
	for i := range n.Children {
		applyDefaults(&n.Children[i])
	}
}

// Validate checks every node of the plan.
func (p *Plan) Validate() error {
	ids := make(map[string]string)
	return validateNode(&p.Root, "root", ids, protect.NewGuard())
}

func validateNode(n *Node, path string, ids map[string]string, guard *protect.Guard) error {
	if !n.Specialization.Valid() {
		return fmt.Errorf("%s: unknown specialization %q", path, n.Specialization)
	}
	if n.Outcome != OutcomeSuccess && n.Outcome != OutcomeFailure {
		return fmt.Errorf("%s: outcome must be success or failure, got %q", path, n.Outcome)
	}
	if n.Work < 0 {
		return fmt.Errorf("%s: work must not be negative", path)
	}
	if n.MaxIterations < 0 || n.CostBudget < 0 {
		return fmt.Errorf("%s: budgets must not be negative", path)
	}
	if n.ID != "" {
		if other, ok := ids[n.ID]; ok {
			return fmt.Errorf("%s: id %q already used at %s", path, n.ID, other)
		}
		ids[n.ID] = path
	}
	for f := range n.Files {
		if ok, reason := guard.Check(f); !ok {
			return fmt.Errorf("%s: file path %q is not writable: %s", path, f, reason)
		}
	}
	for i := range n.Children {
		if err := validateNode(&n.Children[i], fmt.Sprintf("%s.children[%d]", path, i), ids, guard); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of agents in the plan, root included.
func (p *Plan) Count() int {
	return 1 + countChildren(&p.Root)
}
