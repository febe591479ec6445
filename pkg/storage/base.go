// Package storage provides the store interfaces the retrieval engine reads
// from, and the row types shared by every backend.
//
// A relational backend (SQLite, PostgreSQL, OceanBase) holds memories,
// entities and the links between them. Vector similarity may be served by
// the same backend or by a separate VectorIndex.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lorekeeper/recall/pkg/memory"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Memory is a memory row.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID string

	// UserID identifies the user who owns this memory.
	UserID string

	// Content is the text content of the memory.
	Content string

	// Tags are labels attached to the memory.
	Tags []string

	// EntityIDs are the ids of the linked entities.
	EntityIDs []string

	// Embedding is the vector embedding. Only populated on writes and by
	// backends that score vectors in process.
	Embedding []float64

	// CreatedAt is when the memory was created.
	CreatedAt time.Time

	// Score is the similarity from vector search, or the match count from
	// entity search. Zero for plain reads.
	Score float64
}

// Record converts the row into the engine's read-only view.
func (m *Memory) Record() memory.Record {
	return memory.Record{
		ID:        m.ID,
		UserID:    m.UserID,
		Content:   m.Content,
		Tags:      append([]string(nil), m.Tags...),
		EntityIDs: append([]string(nil), m.EntityIDs...),
		CreatedAt: m.CreatedAt,
	}
}

// Entity is a named thing memories can be linked to.
type Entity struct {
	ID     string
	UserID string
	Name   string
	Type   string

	// Confidence is how sure the system is about the entity, in [0,1].
	// Nil when unknown.
	Confidence *float64
}

// SearchOptions controls a vector search.
type SearchOptions struct {
	// Limit is the maximum number of results.
	Limit int

	// Threshold is the minimum cosine similarity a result must reach.
	Threshold float64
}

// VectorIndex answers similarity queries for a user's memories.
type VectorIndex interface {
	// SearchVectors returns memories ordered by similarity (highest first),
	// each with Score set to its similarity.
	SearchVectors(ctx context.Context, userID string, embedding []float64, opts *SearchOptions) ([]*Memory, error)
}

// ContentSearcher runs case-insensitive substring matches over memory content.
type ContentSearcher interface {
	SearchContent(ctx context.Context, userID, query string, limit int) ([]*Memory, error)
}

// MemoryReader loads memories by id and lists a user's memories.
type MemoryReader interface {
	// GetMemories returns the memories with the given ids that belong to
	// userID. Missing ids are skipped. Order is unspecified.
	GetMemories(ctx context.Context, userID string, ids []string) ([]*Memory, error)

	// ListMemories returns up to limit of the user's memories, newest first.
	ListMemories(ctx context.Context, userID string, limit int) ([]*Memory, error)
}

// EntityReader resolves entities and their links.
type EntityReader interface {
	// FindEntities returns the user's entities whose name matches one of
	// names, case-insensitively.
	FindEntities(ctx context.Context, userID string, names []string) ([]*Entity, error)

	// MemoriesForEntities returns memories linked to any of entityIDs,
	// ordered by number of matching links, then newest first. Score holds
	// the match count.
	MemoriesForEntities(ctx context.Context, userID string, entityIDs []string, limit int) ([]*Memory, error)

	// EntityConfidence returns the stored confidence of an entity, or
	// ErrNotFound when the entity or its confidence is missing.
	EntityConfidence(ctx context.Context, entityID string) (float64, error)
}

// Writer seeds a store. The retrieval engine itself never writes.
type Writer interface {
	InsertMemory(ctx context.Context, m *Memory) error
	UpsertEntity(ctx context.Context, e *Entity) error
	LinkEntity(ctx context.Context, memoryID, entityID string) error
}

// Store is a complete relational backend.
type Store interface {
	VectorIndex
	ContentSearcher
	MemoryReader
	EntityReader
	Writer

	Close() error
}
