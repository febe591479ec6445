package query

import (
	"context"

	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
)

// Route is the strategy chosen for one query.
type Route struct {
	Weights      memory.StrategyWeights `json:"weights"`
	UseReranking bool                   `json:"use_reranking"`

	// Method names how the route was chosen: "heuristic" or "fallback".
	Method    string           `json:"method"`
	QueryType memory.QueryType `json:"query_type"`
}

// Preset is the strategy applied to one query type.
type Preset struct {
	Weights      memory.StrategyWeights `json:"weights" yaml:"weights"`
	UseReranking bool                   `json:"use_reranking" yaml:"use_reranking"`
}

// DefaultPresets returns the built-in strategy per query type.
func DefaultPresets() map[memory.QueryType]Preset {
	return map[memory.QueryType]Preset{
		memory.QueryRecent: {
			Weights:      memory.StrategyWeights{Semantic: 0.4, Keyword: 0.1, Entity: 0.1, Temporal: 0.4},
			UseReranking: true,
		},
		memory.QueryFactual: {
			Weights:      memory.StrategyWeights{Semantic: 0.4, Keyword: 0.3, Entity: 0.2, Temporal: 0.1},
			UseReranking: true,
		},
		memory.QueryEntity: {
			Weights:      memory.StrategyWeights{Semantic: 0.4, Keyword: 0.1, Entity: 0.4, Temporal: 0.1},
			UseReranking: true,
		},
		memory.QueryExploratory: {
			Weights: memory.StrategyWeights{Semantic: 0.6, Keyword: 0.1, Entity: 0.1, Temporal: 0.2},
		},
		memory.QueryDefault: {
			Weights: memory.StrategyWeights{Semantic: 0.5, Keyword: 0.2, Entity: 0.1, Temporal: 0.2},
		},
	}
}

// IntentRouter classifies queries and maps them to presets.
type IntentRouter struct {
	presets map[memory.QueryType]Preset
}

// NewIntentRouter creates a router. overrides replace individual built-in
// presets.
func NewIntentRouter(overrides map[memory.QueryType]Preset) *IntentRouter {
	presets := DefaultPresets()
	for qt, p := range overrides {
		p.Weights = p.Weights.Clamp()
		presets[qt] = p
	}
	return &IntentRouter{presets: presets}
}

// Route never fails: an empty query or an internal error yields the
// default strategy with method "fallback".
func (r *IntentRouter) Route(ctx context.Context, query string, history []memory.Turn) (route *Route) {
	defer func() {
		if p := recover(); p != nil {
			logging.From(ctx).Warn("intent routing panicked", "panic", p)
			route = r.fallback()
		}
	}()

	if Normalize(query) == "" {
		return r.fallback()
	}

	qt := Classify(query)
	if qt == memory.QueryExploratory && HasPronoun(query) && lastMentioned(recent(history, 6)) != "" {
		qt = memory.QueryEntity
	}
	preset, ok := r.presets[qt]
	if !ok {
		return r.fallback()
	}
	return &Route{
		Weights:      preset.Weights,
		UseReranking: preset.UseReranking,
		Method:       "heuristic",
		QueryType:    qt,
	}
}

// DefaultRoute is the built-in fallback route.
func DefaultRoute() *Route {
	preset := DefaultPresets()[memory.QueryDefault]
	return &Route{
		Weights:      preset.Weights,
		UseReranking: preset.UseReranking,
		Method:       "fallback",
		QueryType:    memory.QueryDefault,
	}
}

func (r *IntentRouter) fallback() *Route {
	preset := r.presets[memory.QueryDefault]
	return &Route{
		Weights:      preset.Weights,
		UseReranking: preset.UseReranking,
		Method:       "fallback",
		QueryType:    memory.QueryDefault,
	}
}
