package git

import (
	"strconv"
	"strings"
)

// DefaultBranchPrefix namespaces agent branches away from user branches.
const DefaultBranchPrefix = "keen/agent"

// BranchNamer derives child branch names from their parent's branch.
//
// Children of a branch outside the agent namespace (the root's default
// branch) are named <Prefix>-<n>. Children of an agent branch extend the
// parent's name with -<n>, so main -> keen/agent-2 -> keen/agent-2-1.
// The ordinal path makes every name unique across the tree.
type BranchNamer struct {
	Prefix string
}

// NewBranchNamer returns a namer using prefix, or DefaultBranchPrefix if empty.
func NewBranchNamer(prefix string) BranchNamer {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "-/")
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return BranchNamer{Prefix: prefix}
}

// Next returns the branch name for the next child of parent.
// The ordinal is len(existing)+1, bumped past any name already taken.
func (n BranchNamer) Next(parent string, existing []string) string {
	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}

	base := prefix
	if n.isAgentBranch(parent) {
		base = parent
	}

	taken := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		taken[b] = struct{}{}
	}

	for ordinal := len(existing) + 1; ; ordinal++ {
		name := base + "-" + strconv.Itoa(ordinal)
		if _, ok := taken[name]; !ok {
			return name
		}
	}
}

// isAgentBranch reports whether branch was produced by this namer.
func (n BranchNamer) isAgentBranch(branch string) bool {
	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return strings.HasPrefix(branch, prefix+"-")
}

// ChildBranchName derives a child branch name using DefaultBranchPrefix.
func ChildBranchName(parentBranch string, existingChildBranches []string) string {
	return BranchNamer{Prefix: DefaultBranchPrefix}.Next(parentBranch, existingChildBranches)
}
