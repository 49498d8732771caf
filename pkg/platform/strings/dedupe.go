// Package strings provides string-set helpers used for tag handling.
package strings

import (
	"sort"
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SortedSet dedupes, trims and sorts values so two sets compare equal
// regardless of input order.
func SortedSet(values []string) []string {
	out := DedupeAndTrim(values)
	sort.Strings(out)
	return out
}

// Diff returns the elements to add to current to reach desired and the
// elements to remove from it. Both results are sorted.
func Diff(current, desired []string) (add, remove []string) {
	cur := toSet(current)
	want := toSet(desired)
	for v := range want {
		if _, ok := cur[v]; !ok {
			add = append(add, v)
		}
	}
	for v := range cur {
		if _, ok := want[v]; !ok {
			remove = append(remove, v)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range DedupeAndTrim(values) {
		set[v] = struct{}{}
	}
	return set
}
