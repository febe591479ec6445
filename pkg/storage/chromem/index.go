// Package chromem provides an in-process vector index backed by chromem-go.
//
// It serves only similarity queries; memories are still hydrated from the
// relational store. Each user gets their own collection.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lorekeeper/recall/pkg/storage"
)

const (
	metaUserID    = "user_id"
	metaCreatedAt = "created_at"
	metaTags      = "tags"
)

// Index implements storage.VectorIndex.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an index. With an empty path the index lives in memory only,
// otherwise it is persisted under path.
func New(path string) (*Index, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("NewChromemIndex: %w", err)
		}
	}

	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

func (i *Index) collection(userID string) (*chromem.Collection, error) {
	i.mu.RLock()
	col, ok := i.collections[userID]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if col, ok := i.collections[userID]; ok {
		return col, nil
	}

	// Embeddings are always supplied, so no embedding func is configured.
	col, err := i.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	i.collections[userID] = col
	return col, nil
}

// Add indexes a memory. The memory must carry its embedding.
func (i *Index) Add(ctx context.Context, m *storage.Memory) error {
	if len(m.Embedding) == 0 {
		return fmt.Errorf("Add: memory %s has no embedding", m.ID)
	}
	col, err := i.collection(m.UserID)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}

	doc := chromem.Document{
		ID:      m.ID,
		Content: m.Content,
		Metadata: map[string]string{
			metaUserID:    m.UserID,
			metaCreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaTags:      string(tags),
		},
		Embedding: toFloat32(m.Embedding),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

// Count returns the number of indexed memories of a user.
func (i *Index) Count(userID string) int {
	i.mu.RLock()
	col, ok := i.collections[userID]
	i.mu.RUnlock()
	if !ok {
		col = i.db.GetCollection(collectionName(userID), nil)
		if col == nil {
			return 0
		}
	}
	return col.Count()
}

// SearchVectors implements storage.VectorIndex.
func (i *Index) SearchVectors(ctx context.Context, userID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	col, err := i.collection(userID)
	if err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}

	// chromem-go rejects nResults larger than the collection.
	n := opts.Limit
	if n <= 0 || n > col.Count() {
		n = col.Count()
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(embedding), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}

	memories := make([]*storage.Memory, 0, len(results))
	for _, r := range results {
		similarity := float64(r.Similarity)
		if similarity < opts.Threshold {
			continue
		}
		m := &storage.Memory{
			ID:      r.ID,
			UserID:  r.Metadata[metaUserID],
			Content: r.Content,
			Score:   similarity,
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt]); err == nil {
			m.CreatedAt = ts
		}
		if raw := r.Metadata[metaTags]; raw != "" && raw != "null" {
			_ = json.Unmarshal([]byte(raw), &m.Tags)
		}
		memories = append(memories, m)
	}
	return memories, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

var _ storage.VectorIndex = (*Index)(nil)
