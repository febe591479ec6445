// Package sqlite provides the SQLite backend.
//
// SQLite is a lightweight, file-based database suitable for local use and
// tests. Vectors are stored as JSON strings in TEXT fields and similarity is
// computed in process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lorekeeper/recall/pkg/storage"
	"github.com/lorekeeper/recall/pkg/storage/sqlbase"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	*sqlbase.Store
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the memory table. Entity tables are
	// derived from it.
	CollectionName string
}

// NewClient opens (or creates) the database and its tables.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}

	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{Store: sqlbase.New(db, cfg.CollectionName, sqlbase.SQLite{})}
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	t := c.Tables
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			embedding TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.Memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at)`, t.Memories, t.Memories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT,
			confidence REAL
		)`, t.Entities),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_name ON %s(user_id, name)`, t.Entities, t.Entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			memory_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			PRIMARY KEY (memory_id, entity_id)
		)`, t.Links),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_entity ON %s(entity_id)`, t.Links, t.Links),
	}

	for _, stmt := range statements {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// SearchVectors implements storage.VectorIndex.
//
// SQLite has no vector operations, so every embedding of the user is loaded
// and scored with cosine similarity.
func (c *Client) SearchVectors(ctx context.Context, userID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	query := fmt.Sprintf(`SELECT id, user_id, content, tags, created_at, embedding FROM %s WHERE user_id = ? ORDER BY id`,
		c.Tables.Memories)
	rows, err := c.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		var embeddingJSON sql.NullString
		m, err := sqlbase.ScanMemory(rows, &embeddingJSON)
		if err != nil {
			return nil, fmt.Errorf("SearchVectors: %w", err)
		}
		if !embeddingJSON.Valid || embeddingJSON.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding); err != nil {
			return nil, fmt.Errorf("SearchVectors: decode embedding of %s: %w", m.ID, err)
		}

		m.Score = storage.CosineSimilarity(embedding, m.Embedding)
		if m.Score >= opts.Threshold {
			memories = append(memories, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}

	sqlbase.SortByScore(memories)
	if opts.Limit > 0 && len(memories) > opts.Limit {
		memories = memories[:opts.Limit]
	}

	if err := c.AttachEntities(ctx, memories); err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}
	return memories, nil
}

var _ storage.Store = (*Client)(nil)
