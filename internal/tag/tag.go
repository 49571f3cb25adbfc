// Package tag defines the canonical tag normalization applied to every
// store write and every index lookup.
package tag

import (
	"fmt"
	"strings"
)

// Separator splits hierarchical tags, e.g. "animal/cat".
const Separator = "/"

// Normalize returns the canonical form of a raw tag: lower-cased,
// trimmed, internal whitespace collapsed to "-", hierarchy segments
// split on "/" with empty segments rejected. The same rule is applied
// on write and on lookup, so "Animal / Cat" and "animal/cat" address
// the same tag.
func Normalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("tag: empty after trimming: %q", raw)
	}

	segments := strings.Split(s, Separator)
	for i, seg := range segments {
		seg = strings.Join(strings.Fields(seg), "-")
		if seg == "" {
			return "", fmt.Errorf("tag: empty hierarchy segment in %q", raw)
		}
		segments[i] = seg
	}
	return strings.Join(segments, Separator), nil
}

// NormalizeAll normalizes every tag in raw, dropping duplicates while
// preserving first-seen order. Invalid tags surface as an error.
func NormalizeAll(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// Parent returns the parent of a hierarchical tag, or "" for a root
// tag ("animal/cat" → "animal").
func Parent(t string) string {
	i := strings.LastIndex(t, Separator)
	if i < 0 {
		return ""
	}
	return t[:i]
}
