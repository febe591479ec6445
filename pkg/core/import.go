package core

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// importConcurrency bounds the memories embedded and written at once.
const importConcurrency = 10

// Import writes memories and their entities to the store. It seeds stores
// for retrieval; memories are stored as given, with no extraction or
// deduplication.
//
// Items are processed concurrently. A failing item does not stop the others;
// it is reported in ImportResult.Failed. The returned error is set only when
// the context is cancelled before every item was attempted.
//
// Example:
//
//	result, err := client.Import(ctx, []core.ImportMemory{
//	    {UserID: "user_001", Content: "Went hiking with Ana at Mt. Tam",
//	        Entities: []core.ImportEntity{{Name: "Ana", Type: "person"}}},
//	})
//	fmt.Printf("imported %d/%d\n", result.Imported, result.Total)
func (c *Client) Import(ctx context.Context, items []ImportMemory) (*ImportResult, error) {
	result := &ImportResult{Total: len(items), IDs: []string{}}
	if len(items) == 0 {
		return result, nil
	}

	ids := make([]string, len(items))
	var mu sync.Mutex
	fail := func(index int, storedID string, err error) {
		mu.Lock()
		result.Failed = append(result.Failed, ImportError{Index: index, Error: err.Error(), StoredID: storedID})
		mu.Unlock()
	}

	now := time.Now()
	var g errgroup.Group
	g.SetLimit(importConcurrency)
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(i, "", err)
				return nil
			}
			id, err := c.importOne(ctx, &items[i], now)
			if err != nil {
				c.logger.Warn("import failed", "index", i, "user_id", items[i].UserID, "stored_id", id, "error", err)
				fail(i, id, err)
				return nil
			}
			ids[i] = id
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range ids {
		if id != "" {
			result.IDs = append(result.IDs, id)
		}
	}
	result.Imported = len(result.IDs)

	if err := ctx.Err(); err != nil && result.Imported+len(result.Failed) < result.Total {
		return result, NewRecallError("Import", err)
	}
	return result, nil
}

// importOne returns the memory id alongside an error when the row was
// stored but could not be indexed.
func (c *Client) importOne(ctx context.Context, item *ImportMemory, now time.Time) (string, error) {
	if strings.TrimSpace(item.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(item.Content) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	embedding, err := c.embedder.Embed(ctx, item.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var entityIDs []string
	for _, e := range item.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		entity := toStorageEntity(item.UserID, e)
		if err := c.store.UpsertEntity(ctx, entity); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageOperation, err)
		}
		entityIDs = append(entityIDs, entity.ID)
	}

	id := item.ID
	if id == "" {
		id = c.snowflakeNode.Generate().String()
	}
	m := toStorageMemory(item, id, embedding, entityIDs, now)
	if err := c.store.InsertMemory(ctx, m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	if c.chromem != nil {
		if err := c.chromem.Add(ctx, m); err != nil {
			return id, fmt.Errorf("%w: stored as %s but not indexed: %v", ErrStorageOperation, id, err)
		}
	}
	return id, nil
}

// entityID derives a stable id so the same name imported twice for a user
// resolves to one entity.
func entityID(userID, name string) string {
	sum := sha1.Sum([]byte(userID + "\x00" + strings.ToLower(strings.TrimSpace(name))))
	return "ent_" + hex.EncodeToString(sum[:8])
}

// LoadImportFile reads import items from a JSON or YAML file holding a list
// of memories.
func LoadImportFile(path string) ([]ImportMemory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRecallError("LoadImportFile", err)
	}

	var items []ImportMemory
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &items)
	default:
		err = json.Unmarshal(data, &items)
	}
	if err != nil {
		return nil, NewRecallError("LoadImportFile", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	return items, nil
}
