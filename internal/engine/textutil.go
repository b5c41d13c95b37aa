package engine

import "strings"

// JoinSegments concatenates recognized segments into one transcript: each
// segment trimmed, single spaces between them, whole result trimmed.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
