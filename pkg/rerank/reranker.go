// Package rerank reorders the best fused candidates using signals the
// individual search branches cannot see on their own.
package rerank

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/search"
)

// DefaultTopK is how many candidates are reranked. The rest keep the
// neutral rerank score.
const DefaultTopK = 20

// Reranker sets RerankScore in [0,1] on each memory and returns the
// memories ordered by it.
type Reranker interface {
	Rerank(ctx context.Context, query string, memories []*memory.Annotated) ([]*memory.Annotated, error)
}

// Heuristic blends query term coverage, similarity, entity boost and
// recency into a single score.
type Heuristic struct {
	now      func() time.Time
	halfLife time.Duration
}

// NewHeuristic creates a heuristic reranker. now may be nil.
func NewHeuristic(now func() time.Time) *Heuristic {
	if now == nil {
		now = time.Now
	}
	return &Heuristic{now: now, halfLife: 90 * 24 * time.Hour}
}

// Rerank scores every memory. It never fails.
func (h *Heuristic) Rerank(ctx context.Context, query string, memories []*memory.Annotated) ([]*memory.Annotated, error) {
	terms := termSet(search.Tokenize(query))
	now := h.now()

	for _, m := range memories {
		m.RerankScore = clamp01(
			0.4*coverage(terms, m.Content) +
				0.3*clamp01(m.Similarity) +
				0.15*clamp01(m.EntityBoost-1) +
				0.15*h.recency(now, m.CreatedAt))
	}
	return sortByRerank(memories), nil
}

func (h *Heuristic) recency(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(h.halfLife))
}

// TopK reranks the first k memories (k <= 0 means DefaultTopK) and leaves
// the rest in place with the neutral score. The input order is the fused
// order; the reranked head is followed by the untouched tail.
func TopK(ctx context.Context, r Reranker, query string, memories []*memory.Annotated, k int) ([]*memory.Annotated, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if k > len(memories) {
		k = len(memories)
	}
	for _, m := range memories[k:] {
		m.RerankScore = memory.DefaultRerankScore
	}

	head := make([]*memory.Annotated, k)
	copy(head, memories[:k])
	ranked, err := r.Rerank(ctx, query, head)
	if err != nil {
		return nil, err
	}

	out := make([]*memory.Annotated, 0, len(memories))
	out = append(out, ranked...)
	out = append(out, memories[k:]...)
	return out, nil
}

// Skip marks every memory with the neutral rerank score.
func Skip(memories []*memory.Annotated) {
	for _, m := range memories {
		m.RerankScore = memory.DefaultRerankScore
	}
}

func sortByRerank(memories []*memory.Annotated) []*memory.Annotated {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].RerankScore > memories[j].RerankScore
	})
	return memories
}

func termSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// coverage is the fraction of query terms found in content.
func coverage(terms map[string]struct{}, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	found := make(map[string]struct{}, len(terms))
	for _, t := range search.Tokenize(content) {
		if _, ok := terms[t]; ok {
			found[t] = struct{}{}
		}
	}
	return float64(len(found)) / float64(len(terms))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
