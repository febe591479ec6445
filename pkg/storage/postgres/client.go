// Package postgres provides the PostgreSQL backend with pgvector similarity.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lorekeeper/recall/pkg/storage"
	"github.com/lorekeeper/recall/pkg/storage/sqlbase"
)

// Client is a PostgreSQL + pgvector store.
type Client struct {
	*sqlbase.Store
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// DSN renders the lib/pq connection string.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient connects and creates the pgvector extension and tables.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewPostgresClient: embedding dimensions must be positive")
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		Store:      sqlbase.New(db, cfg.CollectionName, sqlbase.Postgres{}),
		dimensions: cfg.EmbeddingModelDims,
	}
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	t := c.Tables
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`, t.Memories, c.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at)`, t.Memories, t.Memories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			name TEXT NOT NULL,
			type VARCHAR(64),
			confidence DOUBLE PRECISION
		)`, t.Entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			memory_id VARCHAR(64) NOT NULL,
			entity_id VARCHAR(64) NOT NULL,
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

// SearchVectors implements storage.VectorIndex using the pgvector cosine
// distance operator.
func (c *Client) SearchVectors(ctx context.Context, userID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vec := storage.VectorToString(embedding)
	query := c.Rebind(fmt.Sprintf(`
		SELECT id, user_id, content, tags, created_at, 1 - (embedding <=> ?::vector) AS similarity
		FROM %s
		WHERE user_id = ? AND embedding IS NOT NULL AND 1 - (embedding <=> ?::vector) >= ?
		ORDER BY embedding <=> ?::vector, id
		LIMIT ?`, c.Tables.Memories))

	rows, err := c.DB.QueryContext(ctx, query, vec, userID, vec, opts.Threshold, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		var similarity float64
		m, err := sqlbase.ScanMemory(rows, &similarity)
		if err != nil {
			return nil, fmt.Errorf("SearchVectors: %w", err)
		}
		m.Score = similarity
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}

	if err := c.AttachEntities(ctx, memories); err != nil {
		return nil, fmt.Errorf("SearchVectors: %w", err)
	}
	return memories, nil
}

var _ storage.Store = (*Client)(nil)
