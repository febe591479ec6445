package core

import (
	"time"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
	"github.com/lorekeeper/recall/pkg/storage"
)

// toMemoryContext converts a pipeline response into the caller's view.
func toMemoryContext(userID, query string, resp *retrieval.Response) *MemoryContext {
	mc := &MemoryContext{
		UserID:      userID,
		Query:       query,
		Memories:    []memory.Scored{},
		GeneratedAt: time.Now(),
	}
	if resp == nil {
		return mc
	}
	if resp.Memories != nil {
		mc.Memories = resp.Memories
	}
	mc.Strategy = resp.Strategy
	mc.Route = resp.Route
	mc.Rewrite = resp.Rewrite
	mc.Branches = resp.Branches
	mc.Fallback = resp.Fallback
	mc.FallbackReason = resp.FallbackReason
	mc.RequestID = resp.RequestID
	return mc
}

func filterByScore(scored []memory.Scored, minScore float64) []memory.Scored {
	if minScore <= 0 {
		return scored
	}
	out := scored[:0:0]
	for _, s := range scored {
		if s.FinalScore >= minScore {
			out = append(out, s)
		}
	}
	return out
}

// toStorageMemory converts an import item into a store row.
func toStorageMemory(item *ImportMemory, id string, embedding []float64, entityIDs []string, now time.Time) *storage.Memory {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &storage.Memory{
		ID:        id,
		UserID:    item.UserID,
		Content:   item.Content,
		Tags:      item.Tags,
		EntityIDs: entityIDs,
		Embedding: embedding,
		CreatedAt: createdAt.UTC(),
	}
}

// toStorageEntity converts an imported entity into a store row.
func toStorageEntity(userID string, e ImportEntity) *storage.Entity {
	return &storage.Entity{
		ID:         entityID(userID, e.Name),
		UserID:     userID,
		Name:       e.Name,
		Type:       e.Type,
		Confidence: e.Confidence,
	}
}
