package drivertest

import "sort"

// sortedKeys gives a stable traversal order. Nodes under the same key keep
// insertion order, which is what tests rely on for offer lists.
func sortedKeys(m map[string][]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
