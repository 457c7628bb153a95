package music

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// similarity returns the matching-blocks ratio of a and b compared rune by rune, in [0, 1].
func similarity(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// rankByRelevance orders items by descending similarity of name(item) to query. Ties
// keep their original order.
func rankByRelevance[T any](items []T, query string, name func(T) string) []float64 {
	scores := make([]float64, len(items))
	idx := make([]int, len(items))
	for i, it := range items {
		scores[i] = similarity(query, name(it))
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	sorted := make([]T, len(items))
	sortedScores := make([]float64, len(items))
	for i, j := range idx {
		sorted[i], sortedScores[i] = items[j], scores[j]
	}
	copy(items, sorted)
	return sortedScores
}
