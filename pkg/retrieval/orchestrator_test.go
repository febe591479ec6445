package retrieval_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
	"github.com/lorekeeper/recall/pkg/search"
	"github.com/lorekeeper/recall/pkg/storage"
)

var now = time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeStore struct {
	rows   map[string]*storage.Memory
	getErr error
}

func newFakeStore(rows ...*storage.Memory) *fakeStore {
	s := &fakeStore{rows: make(map[string]*storage.Memory)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeStore) GetMemories(ctx context.Context, userID string, ids []string) ([]*storage.Memory, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	var out []*storage.Memory
	for _, id := range ids {
		if r, ok := s.rows[id]; ok && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListMemories(ctx context.Context, userID string, limit int) ([]*storage.Memory, error) {
	var out []*storage.Memory
	for _, r := range s.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeSemantic returns fixed hits, or fails when source is search.SourceNone.
type fakeSemantic struct {
	hits   []search.Hit
	source string
	calls  int
}

func (f *fakeSemantic) Search(ctx context.Context, userID, query string, n int) *search.SemanticResult {
	f.calls++
	if f.source == search.SourceNone {
		return &search.SemanticResult{Source: search.SourceNone, Err: errors.New("index and lexical down")}
	}
	hits := f.hits
	if len(hits) > n {
		hits = hits[:n]
	}
	return &search.SemanticResult{Hits: hits, Source: search.SourceVector}
}

type slowKeyword struct {
	delay time.Duration
	hits  []search.Hit
}

func (k *slowKeyword) Search(ctx context.Context, userID, query string, n int) ([]search.Hit, error) {
	time.Sleep(k.delay)
	return k.hits, nil
}

type panicReranker struct{}

func (panicReranker) Rerank(ctx context.Context, query string, memories []*memory.Annotated) ([]*memory.Annotated, error) {
	panic("reranker exploded")
}

func row(id string, age time.Duration, content string) *storage.Memory {
	return &storage.Memory{ID: id, UserID: "u1", Content: content, CreatedAt: now.Add(-age)}
}

func hit(r *storage.Memory, sim float64) search.Hit {
	return search.Hit{ID: r.ID, Record: r.Record(), Score: sim, Scored: true}
}

func clock() retrieval.TemporalWeighter {
	return intelligence.NewTemporalWeighter(intelligence.WithClock(func() time.Time { return now }))
}

func ids(scored []memory.Scored) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.ID
	}
	return out
}

func TestRetrieveEndToEndOrder(t *testing.T) {
	a := row("A", 5*day, "planted tomatoes in the garden")
	b := row("B", 100*day, "garden fence repaired")
	c := row("C", 5*day, "bought garden gloves")

	semantic := &fakeSemantic{hits: []search.Hit{hit(a, 0.9), hit(b, 0.6), hit(c, 0.6)}}
	o, err := retrieval.New(retrieval.Deps{
		Semantic: semantic,
		Memories: newFakeStore(a, b, c),
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	resp := o.Retrieve(context.Background(), "u1",
		retrieval.WithQuery("what happened in the garden"),
		retrieval.WithWeights(memory.StrategyWeights{Semantic: 0.5, Temporal: 0.3}),
		retrieval.WithReranking(false),
	)

	require.False(t, resp.Fallback, resp.FallbackReason)
	require.Equal(t, []string{"A", "C", "B"}, ids(resp.Memories))
	assert.InDelta(t, 0.96, resp.Memories[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.81, resp.Memories[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.69, resp.Memories[2].FinalScore, 1e-9)
	for _, m := range resp.Memories {
		assert.Equal(t, memory.DefaultRerankScore, m.RerankScore)
	}
	assert.Equal(t, retrieval.RankHybrid, resp.Strategy)
}

func TestRetrieveRespectsLimitAndIsIdempotent(t *testing.T) {
	var rows []*storage.Memory
	var hits []search.Hit
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		r := row(id, time.Duration(i+1)*10*day, "note about running")
		rows = append(rows, r)
		hits = append(hits, hit(r, 0.95-0.03*float64(i)))
	}
	o, err := retrieval.New(retrieval.Deps{
		Semantic: &fakeSemantic{hits: hits},
		Keyword:  search.NewKeywordSearcher(newFakeStore(rows...), 0),
		Memories: newFakeStore(rows...),
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	for _, limit := range []int{1, 2, 5, 50} {
		resp := o.Retrieve(context.Background(), "u1",
			retrieval.WithQuery("How often did I go running?"), retrieval.WithLimit(limit))
		assert.LessOrEqual(t, len(resp.Memories), limit)
	}

	first := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("running"), retrieval.WithLimit(4))
	second := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("running"), retrieval.WithLimit(4))
	require.Len(t, first.Memories, 4)
	assert.Equal(t, first.Memories, second.Memories)
}

func TestRetrieveBranchTimeout(t *testing.T) {
	a := row("A", day, "call the plumber")
	o, err := retrieval.New(retrieval.Deps{
		Semantic: &fakeSemantic{hits: []search.Hit{hit(a, 0.8)}},
		Keyword:  &slowKeyword{delay: 400 * time.Millisecond, hits: []search.Hit{hit(a, 3)}},
		Memories: newFakeStore(a),
		Temporal: clock(),
	}, &retrieval.Config{BranchTimeout: 40 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	resp := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("plumber"))
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	require.False(t, resp.Fallback)
	assert.Equal(t, []string{"A"}, ids(resp.Memories))

	outcomes := map[string]retrieval.Outcome{}
	for _, b := range resp.Branches {
		outcomes[b.Name] = b.Outcome
	}
	assert.Equal(t, retrieval.Succeeded, outcomes[retrieval.BranchSemantic])
	assert.Equal(t, retrieval.TimedOut, outcomes[retrieval.BranchKeyword])
	assert.Equal(t, retrieval.Skipped, outcomes[retrieval.BranchEntity])
}

func TestRetrieveFallsBackWhenHydrateFails(t *testing.T) {
	a := row("A", 2*day, "dinner with Ana")
	b := row("B", 200*day, "dinner plans")
	store := newFakeStore(a, b)
	store.getErr = errors.New("connection reset")

	o, err := retrieval.New(retrieval.Deps{
		Semantic: &fakeSemantic{hits: []search.Hit{hit(b, 0.9), hit(a, 0.85)}},
		Memories: store,
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	resp := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("dinner"), retrieval.WithLimit(1))
	assert.True(t, resp.Fallback)
	assert.Equal(t, retrieval.RankProduct, resp.Strategy)
	require.Len(t, resp.Memories, 1)
	// B is older, so its decayed recency loses to A.
	assert.Equal(t, "A", resp.Memories[0].ID)
}

func TestRetrieveFallsBackOnPanic(t *testing.T) {
	a := row("A", day, "yoga class")
	o, err := retrieval.New(retrieval.Deps{
		Semantic: &fakeSemantic{hits: []search.Hit{hit(a, 0.9)}},
		Memories: newFakeStore(a),
		Reranker: panicReranker{},
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	resp := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("yoga"), retrieval.WithReranking(true))
	assert.True(t, resp.Fallback)
	assert.Equal(t, []string{"A"}, ids(resp.Memories))
}

func TestRetrieveTotalFailureIsEmpty(t *testing.T) {
	semantic := &fakeSemantic{source: search.SourceNone}
	o, err := retrieval.New(retrieval.Deps{Semantic: semantic, Memories: newFakeStore()}, nil)
	require.NoError(t, err)

	resp := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("anything"), retrieval.WithRequestID("req-1"))
	require.NotNil(t, resp)
	assert.True(t, resp.Fallback)
	assert.NotNil(t, resp.Memories)
	assert.Empty(t, resp.Memories)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, 2, semantic.calls)
}

func TestRetrieveEmptyQueryListsRecent(t *testing.T) {
	old := row("old", 300*day, "old note")
	mid := row("mid", 40*day, "mid note")
	fresh := row("fresh", day, "fresh note")
	semantic := &fakeSemantic{}

	o, err := retrieval.New(retrieval.Deps{
		Semantic: semantic,
		Memories: newFakeStore(old, mid, fresh),
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	resp := o.Retrieve(context.Background(), "u1", retrieval.WithQuery("   "), retrieval.WithLimit(2))
	assert.False(t, resp.Fallback)
	assert.Equal(t, []string{"fresh", "mid"}, ids(resp.Memories))
	for _, m := range resp.Memories {
		assert.Equal(t, memory.DefaultSimilarity, m.Similarity)
	}
	assert.Equal(t, "fallback", resp.Route.Method)
	assert.Zero(t, semantic.calls)
}

func TestSearchRanksByProduct(t *testing.T) {
	a := row("A", 400*day, "swimming lessons")
	b := row("B", 3*day, "swimming with Leo")
	o, err := retrieval.New(retrieval.Deps{
		Semantic: &fakeSemantic{hits: []search.Hit{hit(a, 0.95), hit(b, 0.75)}},
		Memories: newFakeStore(a, b),
		Temporal: clock(),
	}, nil)
	require.NoError(t, err)

	scored, err := o.Search(context.Background(), "u1", "swimming", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"B", "A"}, ids(scored))
	for _, s := range scored {
		assert.InDelta(t, s.Similarity*s.TemporalWeight*s.Confidence, s.FinalScore, 1e-12)
	}
}

func TestNewRequiresSemanticAndMemories(t *testing.T) {
	_, err := retrieval.New(retrieval.Deps{Memories: newFakeStore()}, nil)
	assert.Error(t, err)
	_, err = retrieval.New(retrieval.Deps{Semantic: &fakeSemantic{}}, nil)
	assert.Error(t, err)
}
