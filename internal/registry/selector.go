package registry

import (
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// matchSelector compares a selector value (tag or location) against an
// operator-supplied pattern. Matching is case-insensitive and supports
// '*' and '?' wildcards, so "floor-*" selects floor-1 and floor-2.
func matchSelector(pattern, value string) bool {
	if pattern == "" || value == "" {
		return false
	}
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	return wildcard.Match(pattern, value)
}
