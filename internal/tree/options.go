package tree

import (
	"time"

	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/git"
	"github.com/keenhq/keen/pkg/models"
)

// DefaultBranch is the root branch used when none is configured.
const DefaultBranch = "main"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPersistence mirrors sessions to p on behalf of user.
func WithPersistence(p Persistence, user models.UserContext) Option {
	return func(c *Coordinator) {
		c.persistence = p
		c.user = user
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records coordinator activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDefaultBranch sets the root's branch.
func WithDefaultBranch(branch string) Option {
	return func(c *Coordinator) {
		if branch != "" {
			c.defaultBranch = branch
		}
	}
}

// WithBranchNamer sets how child branch names are derived.
func WithBranchNamer(n git.BranchNamer) Option {
	return func(c *Coordinator) {
		c.namer = n
	}
}

// WithMaxDepth limits how deep the tree may grow. Zero means unlimited.
func WithMaxDepth(depth int) Option {
	return func(c *Coordinator) {
		if depth >= 0 {
			c.maxDepth = depth
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
