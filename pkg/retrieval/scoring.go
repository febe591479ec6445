package retrieval

import (
	"sort"

	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/memory"
)

// Strategy names a final ranking formula.
type Strategy string

const (
	// RankHybrid is the weighted sum used by full retrieval:
	// sim*w.Semantic + temporal*w.Temporal + boost*w.Entity + rerank*0.3.
	// Its temporal weight uses the bucket policy.
	RankHybrid Strategy = "hybrid"

	// RankProduct is sim * recency * confidence, used by plain semantic
	// search. Its recency uses the decay policy.
	RankProduct Strategy = "product"
)

// TemporalPolicy returns the temporal policy the strategy is defined with.
func (s Strategy) TemporalPolicy() intelligence.TemporalPolicy {
	if s == RankProduct {
		return intelligence.PolicyDecay
	}
	return intelligence.PolicyBucket
}

// HybridScore is the weighted final score of one memory.
func HybridScore(m *memory.Annotated, w memory.StrategyWeights) float64 {
	return m.Similarity*w.Semantic +
		m.TemporalWeight*w.Temporal +
		m.EntityBoost*w.Entity +
		m.RerankScore*memory.RerankWeight
}

// ProductScore is the product ranking score of one memory.
func ProductScore(m *memory.Annotated) float64 {
	return m.Similarity * m.TemporalWeight * m.Confidence
}

// Rank scores memories with the strategy, sorts them by final score and
// keeps at most limit. Ties keep the fused order, then the id.
func Rank(memories []*memory.Annotated, strategy Strategy, w memory.StrategyWeights, limit int) []memory.Scored {
	scored := make([]memory.Scored, 0, len(memories))
	for _, m := range memories {
		s := memory.Scored{Annotated: *m}
		if strategy == RankProduct {
			s.FinalScore = ProductScore(m)
		} else {
			s.FinalScore = HybridScore(m, w)
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if scored[i].FusedOrder != scored[j].FusedOrder {
			return scored[i].FusedOrder < scored[j].FusedOrder
		}
		return scored[i].ID < scored[j].ID
	})

	if limit >= 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
