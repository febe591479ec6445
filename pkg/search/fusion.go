package search

import (
	"sort"

	"github.com/lorekeeper/recall/pkg/memory"
)

// Fuse merges ranked lists into one ranking.
//
// An entry at 0-based rank r of a list of length L contributes 1 - r/L, and
// an id's fused score is the sum over the lists it appears in. A repeated
// id within one list only counts at its best rank. Results are ordered by
// score descending, then by the order ids were first seen (lists in the
// given order, each from rank 0), then by id. Empty lists contribute
// nothing, so the result is the same for the same inputs.
func Fuse(lists ...[]memory.Candidate) []memory.Fused {
	scores := make(map[string]float64)
	order := make(map[string]int)
	var ids []string

	for _, list := range lists {
		length := len(list)
		if length == 0 {
			continue
		}
		ranked := make([]memory.Candidate, length)
		copy(ranked, list)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })

		seen := make(map[string]struct{}, length)
		for pos, c := range ranked {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}

			if _, known := order[c.ID]; !known {
				order[c.ID] = len(ids)
				ids = append(ids, c.ID)
			}
			scores[c.ID] += 1 - float64(pos)/float64(length)
		}
	}

	fused := make([]memory.Fused, len(ids))
	for i, id := range ids {
		fused[i] = memory.Fused{ID: id, Score: scores[id], Order: order[id]}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].Order != fused[j].Order {
			return fused[i].Order < fused[j].Order
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}
