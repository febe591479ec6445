package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes the embedding cache.
type CacheConfig struct {
	// MaxCost is the cache budget in bytes of embedding data.
	MaxCost int64

	// NumCounters is the number of keys tracked for admission. Defaults to
	// ten times the number of embeddings that fit in MaxCost.
	NumCounters int64
}

// Cached memoizes embeddings of identical texts.
type Cached struct {
	Provider
	cache *ristretto.Cache
}

// NewCached wraps p with a ristretto cache.
func NewCached(p Provider, cfg *CacheConfig) (*Cached, error) {
	if cfg == nil {
		cfg = &CacheConfig{}
	}
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	counters := cfg.NumCounters
	if counters <= 0 {
		dims := int64(p.Dimensions())
		if dims <= 0 {
			dims = 1536
		}
		counters = 10 * (maxCost / (dims * 8))
		if counters < 1000 {
			counters = 1000
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("NewCached: %w", err)
	}
	return &Cached{Provider: p, cache: cache}, nil
}

// Embed returns the cached vector for text, computing it on a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float64); ok {
			return append([]float64(nil), vec...), nil
		}
	}

	vec, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float64(nil), vec...), int64(len(vec)*8))
	return vec, nil
}

// EmbedBatch serves hits from the cache and embeds the misses in one call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			if vec, ok := v.([]float64); ok {
				out[i] = append([]float64(nil), vec...)
				continue
			}
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.Provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("EmbedBatch: got %d embeddings for %d texts", len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[slots[j]] = vec
		c.cache.Set(missing[j], append([]float64(nil), vec...), int64(len(vec)*8))
	}
	return out, nil
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close closes the cache and the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}
