// Package selection implements the toggle collection used for multi-select
// tag picking.
package selection

import "slices"

// Toggle returns a new set with id removed if it was present, or appended
// otherwise. The input slice is never modified.
func Toggle(set []string, id string) []string {
	if i := slices.Index(set, id); i >= 0 {
		out := make([]string, 0, len(set)-1)
		out = append(out, set[:i]...)
		return append(out, set[i+1:]...)
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, id)
}

// Contains reports whether id is selected.
func Contains(set []string, id string) bool {
	return slices.Contains(set, id)
}

// Order returns the members in insertion order.
func Order(set []string) []string {
	return slices.Clone(set)
}
