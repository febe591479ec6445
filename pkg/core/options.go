package core

import (
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
)

// RetrieveOption configures a Retrieve call.
type RetrieveOption = retrieval.RetrieveOption

// WithQuery sets the query text. An empty query returns the most recent
// memories.
//
// Example:
//
//	mc := client.Retrieve(ctx, "user_001", core.WithQuery("what did Ana recommend?"))
func WithQuery(q string) RetrieveOption {
	return retrieval.WithQuery(q)
}

// WithHistory passes the recent conversation, oldest first. It is used to
// resolve pronouns and expand the query.
func WithHistory(history []memory.Turn) RetrieveOption {
	return retrieval.WithHistory(history)
}

// WithLimit sets the maximum number of memories returned.
func WithLimit(limit int) RetrieveOption {
	return retrieval.WithLimit(limit)
}

// WithStrategy selects hybrid or product ranking.
func WithStrategy(s retrieval.Strategy) RetrieveOption {
	return retrieval.WithStrategy(s)
}

// WithWeights overrides the routed strategy weights.
func WithWeights(w memory.StrategyWeights) RetrieveOption {
	return retrieval.WithWeights(w)
}

// WithReranking forces reranking on or off regardless of the route.
func WithReranking(enabled bool) RetrieveOption {
	return retrieval.WithReranking(enabled)
}

// SearchOption configures a Search call.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration for Search.
type SearchOptions struct {
	// Limit is the maximum number of results. Defaults to the configured
	// retrieval limit.
	Limit int

	// MinScore drops results whose final score is below it.
	MinScore float64
}

// WithLimitForSearch sets the maximum number of search results.
//
// Example:
//
//	results, _ := client.Search(ctx, "user_001", "hiking", core.WithLimitForSearch(5))
func WithLimitForSearch(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithMinScore drops search results scoring below minScore.
func WithMinScore(minScore float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = minScore
	}
}

func applySearchOptions(defaultLimit int, opts []SearchOption) *SearchOptions {
	o := &SearchOptions{Limit: defaultLimit}
	for _, opt := range opts {
		opt(o)
	}
	if o.Limit <= 0 {
		o.Limit = retrieval.DefaultLimit
	}
	return o
}
