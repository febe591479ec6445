package core

import (
	"time"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
	"github.com/lorekeeper/recall/pkg/retrieval"
)

// MemoryContext is what Retrieve hands back to the caller: the ranked
// memories plus how they were found.
//
// Example:
//
//	mc := client.Retrieve(ctx, "user_001", core.WithQuery("where did I go hiking?"))
//	for _, m := range mc.Memories {
//	    fmt.Printf("%.2f %s\n", m.FinalScore, m.Content)
//	}
type MemoryContext struct {
	// UserID is the user the memories belong to.
	UserID string `json:"user_id"`

	// Query is the query as given by the caller.
	Query string `json:"query"`

	// Memories are ordered by final score, best first. Never nil.
	Memories []memory.Scored `json:"memories"`

	// Strategy is the ranking strategy that produced FinalScore.
	Strategy retrieval.Strategy `json:"strategy"`

	Route    *query.Route             `json:"route,omitempty"`
	Rewrite  *query.Rewrite           `json:"rewrite,omitempty"`
	Branches []retrieval.BranchReport `json:"branches,omitempty"`

	// Fallback is true when the memories come from plain semantic search.
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	// RequestID correlates the call with its log lines.
	RequestID string `json:"request_id"`

	// GeneratedAt is when the context was assembled.
	GeneratedAt time.Time `json:"generated_at"`
}

// ImportMemory is one memory in an import file.
type ImportMemory struct {
	// ID is optional. A snowflake id is generated when empty.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	UserID  string   `json:"user_id" yaml:"user_id"`
	Content string   `json:"content" yaml:"content"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Entities are linked to the memory, created when missing.
	Entities []ImportEntity `json:"entities,omitempty" yaml:"entities,omitempty"`

	// CreatedAt defaults to the import time.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// ImportEntity is an entity mentioned by an imported memory.
type ImportEntity struct {
	Name       string   `json:"name" yaml:"name"`
	Type       string   `json:"type,omitempty" yaml:"type,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	// Total is the number of memories given.
	Total int `json:"total"`

	// Imported is the number of memories written.
	Imported int `json:"imported"`

	// IDs are the written memory ids, in input order.
	IDs []string `json:"ids"`

	// Failed lists the memories that were not written.
	Failed []ImportError `json:"failed,omitempty"`
}

// ImportError describes a memory that failed to import.
type ImportError struct {
	// Index is the position of the memory in the input.
	Index int    `json:"index"`
	Error string `json:"error"`
	// StoredID is set when the memory row was written but a later step
	// failed. Re-importing it with the same ID conflicts.
	StoredID string `json:"stored_id,omitempty"`
}

// RetrieveResult is delivered by RetrieveAsync.
type RetrieveResult struct {
	Context *MemoryContext
}

// SearchResult is delivered by SearchAsync.
type SearchResult struct {
	Memories []memory.Scored
	Error    error
}

// ImportAsyncResult is delivered by ImportAsync.
type ImportAsyncResult struct {
	Result *ImportResult
	Error  error
}
