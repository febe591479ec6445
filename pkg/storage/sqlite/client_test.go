package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/storage"
	sqliteStore "github.com/lorekeeper/recall/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) (*sqliteStore.Client, func()) {
	config := &sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "recall_test.db"),
		CollectionName: "memories",
	}

	store, err := sqliteStore.NewClient(config)
	require.NoError(t, err)
	require.NotNil(t, store)

	return store, func() { _ = store.Close() }
}

func ptr(v float64) *float64 { return &v }

func seed(t *testing.T, store *sqliteStore.Client) time.Time {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertEntity(ctx, &storage.Entity{ID: "e-alice", UserID: "u1", Name: "Alice", Type: "person", Confidence: ptr(0.9)}))
	require.NoError(t, store.UpsertEntity(ctx, &storage.Entity{ID: "e-paris", UserID: "u1", Name: "Paris", Type: "place"}))

	memories := []*storage.Memory{
		{ID: "m1", UserID: "u1", Content: "Alice moved to Paris last spring", Tags: []string{"life"},
			EntityIDs: []string{"e-alice", "e-paris"}, Embedding: []float64{1, 0, 0}, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "m2", UserID: "u1", Content: "Lunch with Alice at 100% organic cafe", EntityIDs: []string{"e-alice"},
			Embedding: []float64{0.9, 0.1, 0}, CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "m3", UserID: "u1", Content: "Fixed the garage door", Embedding: []float64{0, 1, 0}, CreatedAt: now},
		{ID: "m4", UserID: "u2", Content: "Alice is someone else's friend", Embedding: []float64{1, 0, 0}, CreatedAt: now},
	}
	for _, m := range memories {
		require.NoError(t, store.InsertMemory(ctx, m))
	}
	return now
}

func TestSQLiteClient_SearchVectors(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	seed(t, store)

	results, err := store.SearchVectors(context.Background(), "u1", []float64{1, 0, 0},
		&storage.SearchOptions{Limit: 10, Threshold: 0.7})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "m1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "m2", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.ElementsMatch(t, []string{"e-alice", "e-paris"}, results[0].EntityIDs)
	assert.Equal(t, []string{"life"}, results[0].Tags)
}

func TestSQLiteClient_SearchVectorsLimit(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	seed(t, store)

	results, err := store.SearchVectors(context.Background(), "u1", []float64{1, 0, 0},
		&storage.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)
}

func TestSQLiteClient_SearchContent(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	seed(t, store)
	ctx := context.Background()

	results, err := store.SearchContent(ctx, "u1", "ALICE", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// newest first
	assert.Equal(t, "m2", results[0].ID)
	assert.Equal(t, "m1", results[1].ID)

	// LIKE wildcards in the query match literally.
	results, err = store.SearchContent(ctx, "u1", "100%", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m2", results[0].ID)

	results, err = store.SearchContent(ctx, "u1", "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteClient_GetAndListMemories(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	now := seed(t, store)
	ctx := context.Background()

	got, err := store.GetMemories(ctx, "u1", []string{"m1", "m3", "m4", "missing"})
	require.NoError(t, err)
	ids := []string{}
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"m1", "m3"}, ids, "other users' memories are not returned")

	listed, err := store.ListMemories(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "m3", listed[0].ID)
	assert.True(t, now.Equal(listed[0].CreatedAt))
}

func TestSQLiteClient_Entities(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	seed(t, store)
	ctx := context.Background()

	entities, err := store.FindEntities(ctx, "u1", []string{"alice", "PARIS", "nobody"})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "e-alice", entities[0].ID)
	require.NotNil(t, entities[0].Confidence)
	assert.Equal(t, 0.9, *entities[0].Confidence)
	assert.Nil(t, entities[1].Confidence)

	linked, err := store.MemoriesForEntities(ctx, "u1", []string{"e-alice", "e-paris"}, 10)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, "m1", linked[0].ID)
	assert.Equal(t, 2.0, linked[0].Score)
	assert.Equal(t, "m2", linked[1].ID)

	conf, err := store.EntityConfidence(ctx, "e-alice")
	require.NoError(t, err)
	assert.Equal(t, 0.9, conf)

	_, err = store.EntityConfidence(ctx, "e-paris")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = store.EntityConfidence(ctx, "e-missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSQLiteClient_UpsertEntityUpdates(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.UpsertEntity(ctx, &storage.Entity{ID: "e1", UserID: "u1", Name: "Bob", Confidence: ptr(0.2)}))
	require.NoError(t, store.UpsertEntity(ctx, &storage.Entity{ID: "e1", UserID: "u1", Name: "Bob", Confidence: ptr(0.8)}))

	conf, err := store.EntityConfidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, conf)

	require.NoError(t, store.UpsertEntity(ctx, &storage.Entity{ID: "e1", UserID: "u1", Name: "Bob"}))
	conf, err = store.EntityConfidence(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, conf, "an unknown confidence keeps the stored one")

	require.NoError(t, store.LinkEntity(ctx, "m1", "e1"))
	require.NoError(t, store.LinkEntity(ctx, "m1", "e1"), "duplicate links are ignored")
}

func TestSQLiteClient_InsertMemoryRollsBackOnLinkFailure(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.DB.ExecContext(ctx, "DROP TABLE "+store.Tables.Links)
	require.NoError(t, err)

	err = store.InsertMemory(ctx, &storage.Memory{
		ID: "m1", UserID: "u1", Content: "linked memory", EntityIDs: []string{"e-alice"},
		Embedding: []float64{1, 0, 0}, CreatedAt: time.Now(),
	})
	require.Error(t, err)

	var count int
	require.NoError(t, store.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+store.Tables.Memories).Scan(&count))
	assert.Zero(t, count)
}
