package intelligence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/storage"
)

// uncertainBelow is the average under which a memory is UNCERTAIN.
const uncertainBelow = 0.5

// ConfidenceLookup fetches the stored confidence of one entity.
type ConfidenceLookup interface {
	EntityConfidence(ctx context.Context, entityID string) (float64, error)
}

// Confidence is a memory's aggregate entity confidence.
type Confidence struct {
	Value float64
	Mode  memory.ConfidenceMode
}

// NeutralConfidence is used for memories without linked entities.
var NeutralConfidence = Confidence{Value: memory.DefaultConfidence, Mode: memory.ConfidenceNormal}

// ConfidenceScorer averages the confidence of a memory's linked entities.
//
// Each entity is looked up on its own goroutine. A failed or missing lookup
// counts as 0.5 and never affects the other lookups. A memory is UNCERTAIN
// when its average falls below 0.5.
type ConfidenceScorer struct {
	lookup         ConfidenceLookup
	maxConcurrency int
	lookupTimeout  time.Duration
}

// NewConfidenceScorer creates a scorer. maxConcurrency <= 0 means 8 and
// lookupTimeout <= 0 disables the per-lookup timeout.
func NewConfidenceScorer(lookup ConfidenceLookup, maxConcurrency int, lookupTimeout time.Duration) *ConfidenceScorer {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &ConfidenceScorer{
		lookup:         lookup,
		maxConcurrency: maxConcurrency,
		lookupTimeout:  lookupTimeout,
	}
}

// Score returns the confidence of a memory with the given linked entities.
func (s *ConfidenceScorer) Score(ctx context.Context, entityIDs []string) Confidence {
	ids := distinct(entityIDs)
	if len(ids) == 0 {
		return NeutralConfidence
	}
	values := s.fetch(ctx, ids)
	return aggregate(ids, values)
}

// ScoreAll scores many memories, looking each distinct entity up once.
func (s *ConfidenceScorer) ScoreAll(ctx context.Context, records []memory.Record) map[string]Confidence {
	var all []string
	for _, rec := range records {
		all = append(all, rec.EntityIDs...)
	}
	values := s.fetch(ctx, distinct(all))

	out := make(map[string]Confidence, len(records))
	for _, rec := range records {
		ids := distinct(rec.EntityIDs)
		if len(ids) == 0 {
			out[rec.ID] = NeutralConfidence
			continue
		}
		out[rec.ID] = aggregate(ids, values)
	}
	return out
}

// fetch looks every id up concurrently. The group is created without a
// derived context so one failed lookup cannot cancel its siblings.
func (s *ConfidenceScorer) fetch(ctx context.Context, ids []string) map[string]float64 {
	values := make(map[string]float64, len(ids))
	if len(ids) == 0 || s.lookup == nil {
		return values
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.maxConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			v, ok := s.lookupOne(ctx, id)
			if ok {
				mu.Lock()
				values[id] = v
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return values
}

func (s *ConfidenceScorer) lookupOne(ctx context.Context, id string) (v float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Warn("entity confidence lookup panicked", "entity_id", id, "panic", r)
			ok = false
		}
	}()

	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}

	v, err := s.lookup.EntityConfidence(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.From(ctx).Debug("entity confidence lookup failed", "entity_id", id, "error", err)
		}
		return 0, false
	}
	return clamp01(v), true
}

func aggregate(ids []string, values map[string]float64) Confidence {
	var sum float64
	for _, id := range ids {
		if v, ok := values[id]; ok {
			sum += v
		} else {
			sum += memory.DefaultConfidence
		}
	}
	avg := sum / float64(len(ids))

	mode := memory.ConfidenceNormal
	if avg < uncertainBelow {
		mode = memory.ConfidenceUncertain
	}
	return Confidence{Value: avg, Mode: mode}
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
