package types

import (
	"sort"
	"strings"
)

// NormalizeTags lowercases, trims, deduplicates, and sorts a tag set.
// Empty tags (after trimming) are dropped. The result is deterministic for
// any input ordering, which keeps stored tag sets stable across updates.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}

	sort.Strings(out)
	return out
}
