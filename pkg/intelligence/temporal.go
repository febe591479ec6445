// Package intelligence scores memories on signals beyond text similarity:
// recency, entity overlap with the query, and confidence in the linked
// entities.
package intelligence

import (
	"math"
	"time"

	"github.com/lorekeeper/recall/pkg/memory"
)

// Day is 24 hours. Ages are measured in whole days of wall time.
const Day = 24 * time.Hour

// TemporalPolicy selects how age turns into a weight.
type TemporalPolicy string

const (
	// PolicyBucket maps age to one of three fixed weights. Used by the
	// hybrid final score.
	PolicyBucket TemporalPolicy = "bucket"

	// PolicyDecay applies exponential half-life decay. Used by the
	// similarity x recency x confidence ranking.
	PolicyDecay TemporalPolicy = "decay"
)

// TemporalWeighter turns a memory's age into a recency weight.
//
// Bucket policy: age <= 30 days -> 1.2, <= 90 days -> 1.0, otherwise 0.8.
// Decay policy: 0.5^(age/halfLife), with a 30 day half-life for queries
// about recent events and 90 days otherwise.
//
// Memories dated in the future count as age zero.
type TemporalWeighter struct {
	now func() time.Time

	freshWindow time.Duration
	staleWindow time.Duration

	freshWeight  float64
	middleWeight float64
	staleWeight  float64

	recentHalfLife  time.Duration
	defaultHalfLife time.Duration
}

// TemporalOption configures a TemporalWeighter.
type TemporalOption func(*TemporalWeighter)

// WithClock sets the time source.
func WithClock(now func() time.Time) TemporalOption {
	return func(w *TemporalWeighter) {
		if now != nil {
			w.now = now
		}
	}
}

// WithHalfLives sets the decay half-lives for recent and other queries.
func WithHalfLives(recent, other time.Duration) TemporalOption {
	return func(w *TemporalWeighter) {
		if recent > 0 {
			w.recentHalfLife = recent
		}
		if other > 0 {
			w.defaultHalfLife = other
		}
	}
}

// NewTemporalWeighter creates a weighter with the standard buckets and
// half-lives.
func NewTemporalWeighter(opts ...TemporalOption) *TemporalWeighter {
	w := &TemporalWeighter{
		now:             time.Now,
		freshWindow:     30 * Day,
		staleWindow:     90 * Day,
		freshWeight:     1.2,
		middleWeight:    1.0,
		staleWeight:     0.8,
		recentHalfLife:  30 * Day,
		defaultHalfLife: 90 * Day,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Now returns the weighter's current time.
func (w *TemporalWeighter) Now() time.Time {
	return w.now()
}

// Age returns how old a memory is, never negative.
func (w *TemporalWeighter) Age(createdAt time.Time) time.Duration {
	age := w.now().Sub(createdAt)
	if age < 0 {
		return 0
	}
	return age
}

// Bucket returns the discrete recency weight.
func (w *TemporalWeighter) Bucket(createdAt time.Time) float64 {
	age := w.Age(createdAt)
	switch {
	case age <= w.freshWindow:
		return w.freshWeight
	case age <= w.staleWindow:
		return w.middleWeight
	default:
		return w.staleWeight
	}
}

// HalfLife returns the decay half-life used for a query type.
func (w *TemporalWeighter) HalfLife(queryType memory.QueryType) time.Duration {
	if queryType == memory.QueryRecent {
		return w.recentHalfLife
	}
	return w.defaultHalfLife
}

// Decay returns the exponential recency weight in (0,1].
func (w *TemporalWeighter) Decay(createdAt time.Time, queryType memory.QueryType) float64 {
	halfLife := w.HalfLife(queryType)
	ratio := float64(w.Age(createdAt)) / float64(halfLife)
	return math.Exp(-math.Ln2 * ratio)
}

// Weight applies the given policy.
func (w *TemporalWeighter) Weight(createdAt time.Time, queryType memory.QueryType, policy TemporalPolicy) float64 {
	if policy == PolicyDecay {
		return w.Decay(createdAt, queryType)
	}
	return w.Bucket(createdAt)
}
