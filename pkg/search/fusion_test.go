package search_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/search"
)

func list(ids ...string) []memory.Candidate {
	out := make([]memory.Candidate, len(ids))
	for i, id := range ids {
		out[i] = memory.Candidate{ID: id, Rank: i}
	}
	return out
}

func TestFuseContributions(t *testing.T) {
	fused := search.Fuse(list("a", "b", "c", "d"), list("c", "a"))
	require.Len(t, fused, 4)

	scores := map[string]float64{}
	for _, f := range fused {
		scores[f.ID] = f.Score
	}
	// a: 1 + 0.5, c: 0.5 + 1, b: 0.75, d: 0.25
	assert.InDelta(t, 1.5, scores["a"], 1e-12)
	assert.InDelta(t, 1.5, scores["c"], 1e-12)
	assert.InDelta(t, 0.75, scores["b"], 1e-12)
	assert.InDelta(t, 0.25, scores["d"], 1e-12)

	// a and c tie; a was seen first.
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(fused))
}

func TestFuseSkipsEmptyLists(t *testing.T) {
	withEmpty := search.Fuse(list("x", "y"), nil, list())
	without := search.Fuse(list("x", "y"))
	assert.Equal(t, without, withEmpty)
	assert.Empty(t, search.Fuse())
	assert.Empty(t, search.Fuse(nil, nil))
}

func TestFuseIsDeterministic(t *testing.T) {
	a := list("m3", "m1", "m2")
	b := list("m2", "m4")
	c := list("m4", "m1")

	first := search.Fuse(a, b, c)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, search.Fuse(a, b, c))
	}
}

func TestFuseDeduplicatesWithinList(t *testing.T) {
	fused := search.Fuse(list("a", "a", "b"))
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/3.0, fused[1].Score, 1e-12)
}

func TestFuseOrderIsFirstAppearance(t *testing.T) {
	fused := search.Fuse(list("p"), list("q"))
	require.Len(t, fused, 2)
	assert.Equal(t, "p", fused[0].ID)
	assert.Equal(t, 0, fused[0].Order)
	assert.Equal(t, 1, fused[1].Order)
}

func ids(fused []memory.Fused) []string {
	out := make([]string, len(fused))
	for i, f := range fused {
		out[i] = f.ID
	}
	return out
}
