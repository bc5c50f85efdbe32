package protect

import "strings"

// Match reports whether a slash-separated path matches pattern. A "**"
// segment matches any number of segments and "*" matches within a segment.
func Match(pattern, path string) bool {
	return matchParts(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

// matchParts recursively matches path segments against pattern segments.
func matchParts(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	p := pattern[0]
	rest := pattern[1:]

	if p == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchParts(path[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 || !matchSegment(path[0], p) {
		return false
	}
	return matchParts(path[1:], rest)
}

func matchSegment(segment, pattern string) bool {
	switch {
	case pattern == "*" || pattern == segment:
		return true
	case strings.Contains(pattern, "*"):
		return matchWildcard(segment, pattern)
	default:
		return false
	}
}

// matchWildcard matches a segment against a pattern containing * wildcards.
func matchWildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}

		if i == 0 {
			if !strings.HasPrefix(s, part) {
				return false
			}
			pos = len(part)
			continue
		}

		if i == len(parts)-1 && !strings.HasSuffix(pattern, "*") {
			return len(s)-len(part) >= pos && strings.HasSuffix(s, part)
		}

		idx := strings.Index(s[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}

	return true
}
