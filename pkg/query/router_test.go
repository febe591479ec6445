package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
)

func TestRouterPresets(t *testing.T) {
	router := query.NewIntentRouter(nil)
	ctx := context.Background()

	testCases := []struct {
		query      string
		wantType   memory.QueryType
		wantRerank bool
	}{
		{"what happened yesterday", memory.QueryRecent, true},
		{"who is Alice", memory.QueryEntity, true},
		{"what is my blood type", memory.QueryFactual, true},
		{"ideas for weekend hobbies", memory.QueryExploratory, false},
		{"Thoughts about career changes", memory.QueryExploratory, false},
		{"Hiking trips last summer", memory.QueryExploratory, false},
		{"Dentist appointment", memory.QueryExploratory, false},
	}

	for _, tc := range testCases {
		route := router.Route(ctx, tc.query, nil)
		assert.Equal(t, tc.wantType, route.QueryType, tc.query)
		assert.Equal(t, tc.wantRerank, route.UseReranking, tc.query)
		assert.Equal(t, "heuristic", route.Method)
		assert.Equal(t, query.DefaultPresets()[tc.wantType].Weights, route.Weights)
	}
}

func TestRouterWeightsAreNonNegative(t *testing.T) {
	router := query.NewIntentRouter(map[memory.QueryType]query.Preset{
		memory.QueryFactual: {Weights: memory.StrategyWeights{Semantic: -1, Keyword: 0.5}},
	})

	route := router.Route(context.Background(), "what is my blood type", nil)
	assert.Equal(t, 0.0, route.Weights.Semantic)
	assert.Equal(t, 0.5, route.Weights.Keyword)
}

func TestRouterFallback(t *testing.T) {
	router := query.NewIntentRouter(nil)
	route := router.Route(context.Background(), "  ", nil)

	assert.Equal(t, "fallback", route.Method)
	assert.Equal(t, memory.QueryDefault, route.QueryType)
	assert.False(t, route.UseReranking)
}

func TestRouterPronounWithHistoryIsEntity(t *testing.T) {
	router := query.NewIntentRouter(nil)
	route := router.Route(context.Background(), "plans with her", []memory.Turn{{Content: "Dinner with Maya"}})
	assert.Equal(t, memory.QueryEntity, route.QueryType)
}
