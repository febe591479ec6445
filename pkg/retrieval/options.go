package retrieval

import (
	"github.com/lorekeeper/recall/pkg/memory"
)

// DefaultLimit is the number of memories returned when no limit is given.
const DefaultLimit = 10

// RetrieveOptions controls one retrieval call.
type RetrieveOptions struct {
	// Query is the conversational query. Empty means "most recent memories".
	Query string

	// History is the recent conversation, oldest first.
	History []memory.Turn

	// Limit is the maximum number of memories returned.
	Limit int

	// Strategy picks the final ranking formula.
	Strategy Strategy

	// Weights replaces the routed strategy weights when set.
	Weights *memory.StrategyWeights

	// Rerank overrides the routed reranking decision when set.
	Rerank *bool

	// RequestID tags logs and the response.
	RequestID string
}

// RetrieveOption configures a retrieval call.
type RetrieveOption func(*RetrieveOptions)

// WithQuery sets the query.
func WithQuery(query string) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.Query = query
	}
}

// WithHistory sets the conversation history.
func WithHistory(history []memory.Turn) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.History = history
	}
}

// WithLimit sets the result limit. Non-positive values keep the default.
func WithLimit(limit int) RetrieveOption {
	return func(o *RetrieveOptions) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

// WithStrategy selects the ranking strategy.
func WithStrategy(strategy Strategy) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.Strategy = strategy
	}
}

// WithWeights overrides the routed weights. Negative weights are clamped to 0.
func WithWeights(w memory.StrategyWeights) RetrieveOption {
	return func(o *RetrieveOptions) {
		clamped := w.Clamp()
		o.Weights = &clamped
	}
}

// WithReranking forces reranking on or off.
func WithReranking(enabled bool) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.Rerank = &enabled
	}
}

// WithRequestID sets the request id.
func WithRequestID(id string) RetrieveOption {
	return func(o *RetrieveOptions) {
		o.RequestID = id
	}
}

// ApplyRetrieveOptions resolves opts over the defaults.
func ApplyRetrieveOptions(opts ...RetrieveOption) *RetrieveOptions {
	options := &RetrieveOptions{
		Limit:    DefaultLimit,
		Strategy: RankHybrid,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Strategy != RankProduct {
		options.Strategy = RankHybrid
	}
	return options
}
