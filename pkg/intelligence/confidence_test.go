package intelligence_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/storage"
)

type fakeConfidences struct {
	values map[string]float64
	errs   map[string]error
	delay  time.Duration
	calls  atomic.Int32

	mu   sync.Mutex
	seen []string
}

func (f *fakeConfidences) EntityConfidence(ctx context.Context, id string) (float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, id)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err, ok := f.errs[id]; ok {
		return 0, err
	}
	if v, ok := f.values[id]; ok {
		return v, nil
	}
	return 0, storage.ErrNotFound
}

func TestConfidenceScore(t *testing.T) {
	lookup := &fakeConfidences{values: map[string]float64{
		"a": 0.9, "b": 0.3, "c": 0.2, "d": 0.1,
	}}
	scorer := intelligence.NewConfidenceScorer(lookup, 4, 0)
	ctx := context.Background()

	testCases := []struct {
		name     string
		ids      []string
		wantConf float64
		wantMode memory.ConfidenceMode
	}{
		{"mixed", []string{"a", "b"}, 0.6, memory.ConfidenceNormal},
		{"low", []string{"c", "d"}, 0.15, memory.ConfidenceUncertain},
		{"none", nil, 0.5, memory.ConfidenceNormal},
		{"missing counts as neutral", []string{"a", "missing"}, 0.7, memory.ConfidenceNormal},
		{"duplicates count once", []string{"c", "c", "d"}, 0.15, memory.ConfidenceUncertain},
		{"exactly neutral", []string{"missing"}, 0.5, memory.ConfidenceNormal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := scorer.Score(ctx, tc.ids)
			assert.InDelta(t, tc.wantConf, got.Value, 1e-9)
			assert.Equal(t, tc.wantMode, got.Mode)
		})
	}
}

func TestConfidenceFailuresAreIsolated(t *testing.T) {
	lookup := &fakeConfidences{
		values: map[string]float64{"good": 1.0},
		errs:   map[string]error{"bad": errors.New("connection reset")},
	}
	scorer := intelligence.NewConfidenceScorer(lookup, 2, 0)

	got := scorer.Score(context.Background(), []string{"good", "bad"})
	assert.InDelta(t, 0.75, got.Value, 1e-9)
	assert.Equal(t, memory.ConfidenceNormal, got.Mode)
}

func TestConfidenceLookupTimeout(t *testing.T) {
	lookup := &fakeConfidences{values: map[string]float64{"slow": 0.1}, delay: time.Second}
	scorer := intelligence.NewConfidenceScorer(lookup, 2, 10*time.Millisecond)

	start := time.Now()
	got := scorer.Score(context.Background(), []string{"slow"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.InDelta(t, 0.5, got.Value, 1e-9)
}

func TestConfidenceScoreAllSharesLookups(t *testing.T) {
	lookup := &fakeConfidences{values: map[string]float64{"a": 0.9, "b": 0.3}}
	scorer := intelligence.NewConfidenceScorer(lookup, 4, 0)

	out := scorer.ScoreAll(context.Background(), []memory.Record{
		{ID: "m1", EntityIDs: []string{"a", "b"}},
		{ID: "m2", EntityIDs: []string{"b"}},
		{ID: "m3"},
	})

	assert.InDelta(t, 0.6, out["m1"].Value, 1e-9)
	assert.InDelta(t, 0.3, out["m2"].Value, 1e-9)
	assert.Equal(t, memory.ConfidenceUncertain, out["m2"].Mode)
	assert.Equal(t, intelligence.NeutralConfidence, out["m3"])
	assert.Equal(t, int32(2), lookup.calls.Load())
}
