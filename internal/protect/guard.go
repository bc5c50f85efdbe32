// Package protect decides which repository paths agents may not write.
package protect

import (
	"path/filepath"
	"strings"
)

// ReservedPatterns are paths owned by git and keen itself.
var ReservedPatterns = []string{
	".git",
	".git/**",
	".keen",
	".keen/**",
	".keen.yaml",
}

// Guard checks agent file writes against reserved patterns.
type Guard struct {
	patterns []string
}

// NewGuard creates a Guard for ReservedPatterns plus extra.
func NewGuard(extra ...string) *Guard {
	patterns := append([]string{}, ReservedPatterns...)
	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, filepath.ToSlash(p))
		}
	}
	return &Guard{patterns: patterns}
}

// Patterns returns a copy of the guard's patterns.
func (g *Guard) Patterns() []string {
	return append([]string{}, g.patterns...)
}

// Check reports whether path is writable. When it is not, the returned
// string is the pattern it matched, or a description of why the path
// leaves the repository.
func (g *Guard) Check(path string) (bool, string) {
	if path == "" {
		return false, "empty path"
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		return false, "absolute path"
	}
	slashed := filepath.ToSlash(clean)
	if slashed == ".." || strings.HasPrefix(slashed, "../") {
		return false, "escapes the repository"
	}
	for _, p := range g.patterns {
		if Match(p, slashed) {
			return false, p
		}
	}
	return true, ""
}
