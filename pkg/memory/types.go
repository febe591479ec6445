// Package memory defines the records and intermediate results that flow
// through a retrieval pass, from raw store rows to the final ranked list.
package memory

import "time"

// Neutral values used whenever a signal is missing for a memory.
const (
	DefaultSimilarity     = 0.5
	DefaultTemporalWeight = 1.0
	DefaultEntityBoost    = 1.0
	DefaultConfidence     = 0.5
	DefaultRerankScore    = 0.5

	// RerankWeight is the fixed weight of the rerank score in the hybrid final score.
	RerankWeight = 0.3
)

// Record is a stored memory as the retrieval engine sees it. It is read-only
// to the engine.
type Record struct {
	// ID is the opaque memory identifier, unique per store.
	ID string `json:"id"`

	// UserID is the owner of the memory.
	UserID string `json:"user_id"`

	// Content is the memory text.
	Content string `json:"content"`

	// Tags are free-form labels attached at creation time.
	Tags []string `json:"tags,omitempty"`

	// EntityIDs are the entities linked to the memory.
	EntityIDs []string `json:"entity_ids,omitempty"`

	// CreatedAt is when the memory was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is one entry of a ranked list produced by a search branch.
// Rank 0 is the best entry.
type Candidate struct {
	ID   string
	Rank int
}

// Fused is one entry of the fused ranking. IDs are unique within a fused list.
type Fused struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`

	// Order is the position at which the id was first seen across the input lists.
	Order int `json:"order"`
}

// ConfidenceMode classifies how reliable the entities behind a memory are.
type ConfidenceMode string

const (
	ConfidenceNormal    ConfidenceMode = "NORMAL"
	ConfidenceUncertain ConfidenceMode = "UNCERTAIN"
)

// Annotated is a hydrated record carrying every per-signal score.
type Annotated struct {
	Record

	Similarity     float64        `json:"similarity"`
	TemporalWeight float64        `json:"temporal_weight"`
	EntityBoost    float64        `json:"entity_boost"`
	Confidence     float64        `json:"confidence"`
	ConfidenceMode ConfidenceMode `json:"confidence_mode"`
	RerankScore    float64        `json:"rerank_score"`

	// FusedScore and FusedOrder come from the fusion step and are used to
	// break ties in the final sort.
	FusedScore float64 `json:"fused_score"`
	FusedOrder int     `json:"fused_order"`
}

// NewAnnotated wraps a record with neutral signal values.
func NewAnnotated(rec Record) *Annotated {
	return &Annotated{
		Record:         rec,
		Similarity:     DefaultSimilarity,
		TemporalWeight: DefaultTemporalWeight,
		EntityBoost:    DefaultEntityBoost,
		Confidence:     DefaultConfidence,
		ConfidenceMode: ConfidenceNormal,
		RerankScore:    DefaultRerankScore,
	}
}

// Scored is an annotated memory with its final ranking score.
type Scored struct {
	Annotated
	FinalScore float64 `json:"final_score"`
}

// StrategyWeights are the per-signal weights chosen for one query.
// All weights are non-negative.
type StrategyWeights struct {
	Semantic float64 `json:"semantic" yaml:"semantic"`
	Keyword  float64 `json:"keyword" yaml:"keyword"`
	Entity   float64 `json:"entity" yaml:"entity"`
	Temporal float64 `json:"temporal" yaml:"temporal"`
}

// Clamp returns a copy with negative weights set to zero.
func (w StrategyWeights) Clamp() StrategyWeights {
	if w.Semantic < 0 {
		w.Semantic = 0
	}
	if w.Keyword < 0 {
		w.Keyword = 0
	}
	if w.Entity < 0 {
		w.Entity = 0
	}
	if w.Temporal < 0 {
		w.Temporal = 0
	}
	return w
}

// Turn is one message of the recent conversation.
type Turn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// QueryType is the coarse class of a query, chosen by the router.
type QueryType string

const (
	QueryRecent      QueryType = "recent"
	QueryFactual     QueryType = "factual"
	QueryEntity      QueryType = "entity"
	QueryExploratory QueryType = "exploratory"
	QueryDefault     QueryType = "default"
)
