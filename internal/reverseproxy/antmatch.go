package reverseproxy

import "strings"

// AntMatch implements Ant-style path matching: '*' matches within a
// single path segment, '**' matches zero or more segments. Used for both
// Path and Host predicates (spec glossary: "Ant-style pattern").
func AntMatch(pattern, path string) bool {
	pSegs := splitSegments(pattern)
	sSegs := splitSegments(path)
	return matchSegments(pSegs, sSegs)
}

func splitSegments(s string) []string {
	s = strings.Trim(s, "/")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head := pattern[0]

	if head == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(pattern[1:], path[i:]) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}

	if !matchSegment(head, path[0]) {
		return false
	}

	return matchSegments(pattern[1:], path[1:])
}

// matchSegment matches one path segment against a pattern segment where
// '*' stands for any run of characters within the segment.
func matchSegment(pattern, seg string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == seg
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(seg, parts[0]) {
		return false
	}
	seg = seg[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		idx := strings.Index(seg, p)
		if idx < 0 {
			return false
		}
		seg = seg[idx+len(p):]
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(seg, last)
}
