package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/llm"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
)

// mockLLM is a scripted llm.Provider.
type mockLLM struct {
	response string
	err      error
	panics   bool
	prompts  []string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return m.GenerateWithMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (m *mockLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if m.panics {
		panic("boom")
	}
	m.prompts = append(m.prompts, messages[len(messages)-1].Content)
	return m.response, m.err
}

func (m *mockLLM) Close() error { return nil }

func TestRewriteHeuristics(t *testing.T) {
	rw := query.NewQueryRewriter(nil, nil)

	res := rw.Rewrite(context.Background(), "  When did Alice visit Paris?  ", nil)
	assert.Equal(t, "  When did Alice visit Paris?  ", res.Original)
	assert.Equal(t, "When did Alice visit Paris", res.Normalized)
	assert.Equal(t, []string{"Alice", "Paris"}, res.Entities)
	assert.Equal(t, memory.QueryEntity, res.IntentHint)
	assert.False(t, res.IsRewritten)
	assert.Contains(t, res.Metadata, "rewrite_time_seconds")
}

func TestRewriteResolvesPronounFromHistory(t *testing.T) {
	rw := query.NewQueryRewriter(nil, &query.Config{HistoryWindow: 2})
	history := []memory.Turn{
		{Role: "user", Content: "I talked to Carol"},
		{Role: "assistant", Content: "Nice."},
		{Role: "user", Content: "Then Bob called me."},
	}

	res := rw.Rewrite(context.Background(), "what does he do for work", history)
	assert.Equal(t, []string{"what does Bob do for work"}, res.Expanded)
	assert.Equal(t, []string{"Bob"}, res.Entities)
	assert.Equal(t, []string{"what does he do for work", "what does Bob do for work"}, res.Queries())
}

func TestRewriteEmptyQuery(t *testing.T) {
	rw := query.NewQueryRewriter(nil, nil)
	res := rw.Rewrite(context.Background(), "   ", nil)
	assert.Equal(t, "", res.Normalized)
	assert.Empty(t, res.Entities)
	assert.Equal(t, memory.QueryDefault, res.IntentHint)
}

func TestRewriteWithLLM(t *testing.T) {
	provider := &mockLLM{response: `"Where did Alice travel in 2023"`}
	rw := query.NewQueryRewriter(provider, &query.Config{UseLLM: true})

	res := rw.Rewrite(context.Background(), "where did she travel", []memory.Turn{{Role: "user", Content: "Alice is back"}})
	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "user: Alice is back")
	assert.Contains(t, provider.prompts[0], "where did she travel")

	assert.True(t, res.IsRewritten)
	assert.Contains(t, res.Expanded, "Where did Alice travel in 2023")
	assert.Equal(t, true, res.Metadata["llm_used"])
	assert.Equal(t, []string{"Alice"}, res.Entities)
}

func TestRewriteLLMErrorFallsBack(t *testing.T) {
	provider := &mockLLM{err: errors.New("rate limited")}
	rw := query.NewQueryRewriter(provider, &query.Config{UseLLM: true})

	res := rw.Rewrite(context.Background(), "favorite food", nil)
	assert.False(t, res.IsRewritten)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "rate limited")
	assert.Equal(t, []string{"favorite food"}, res.Queries())
}

func TestRewriteRecoversFromPanic(t *testing.T) {
	rw := query.NewQueryRewriter(&mockLLM{panics: true}, &query.Config{UseLLM: true})

	res := rw.Rewrite(context.Background(), "What about Alice", nil)
	require.NotNil(t, res)
	assert.Equal(t, "What about Alice", res.Original)
	assert.Empty(t, res.Entities)
}

func TestRewriteSentenceCaseHasNoEntities(t *testing.T) {
	rw := query.NewQueryRewriter(nil, nil)

	res := rw.Rewrite(context.Background(), "Dentist appointment last week", nil)
	assert.Empty(t, res.Entities)
	assert.Equal(t, memory.QueryRecent, res.IntentHint)

	res = rw.Rewrite(context.Background(), "Hiking trips with Ana", nil)
	assert.Equal(t, []string{"Ana"}, res.Entities)
	assert.Equal(t, memory.QueryEntity, res.IntentHint)
}
