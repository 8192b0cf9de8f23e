// file: internal/cache/find.go
// version: 1.0.0
// guid: 3e6a9c1f-7b2d-4f8e-a5c3-0d9b8e7f6a21

package cache

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FindKeys returns the keys fuzzily matching query, closest first. An empty
// query returns keys unchanged.
func FindKeys(keys []string, query string) []string {
	if query == "" {
		return keys
	}
	ranks := fuzzy.RankFindFold(query, keys)
	sort.Stable(ranks)
	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}
	return out
}
