// Package oceanbase provides the OceanBase backend, reached over the MySQL
// protocol and scored with OceanBase's native cosine_distance.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lorekeeper/recall/pkg/storage"
	"github.com/lorekeeper/recall/pkg/storage/sqlbase"
)

// Client is an OceanBase store.
type Client struct {
	*sqlbase.Store
	dimensions int
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// DSN renders the go-sql-driver/mysql connection string.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

// NewClient connects and creates the collection tables.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewOceanBaseClient: embedding dimensions must be positive")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	client := &Client{
		Store:      sqlbase.New(db, cfg.CollectionName, sqlbase.MySQL{}),
		dimensions: cfg.EmbeddingModelDims,
	}
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
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			content LONGTEXT NOT NULL,
			tags TEXT,
			embedding VECTOR(%d),
			created_at DATETIME(6),
			INDEX idx_user_created (user_id, created_at)
		)`, t.Memories, c.dimensions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			name VARCHAR(512) NOT NULL,
			type VARCHAR(64),
			confidence DOUBLE,
			INDEX idx_user_name (user_id, name)
		)`, t.Entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			memory_id VARCHAR(64) NOT NULL,
			entity_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (memory_id, entity_id),
			INDEX idx_entity (entity_id)
		)`, t.Links),
	}

	for _, stmt := range statements {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// SearchVectors implements storage.VectorIndex.
func (c *Client) SearchVectors(ctx context.Context, userID string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vec := storage.VectorToString(embedding)
	query := fmt.Sprintf(`
		SELECT id, user_id, content, tags, created_at, 1 - cosine_distance(embedding, ?) AS similarity
		FROM %s
		WHERE user_id = ? AND embedding IS NOT NULL AND 1 - cosine_distance(embedding, ?) >= ?
		ORDER BY cosine_distance(embedding, ?), id
		LIMIT ?`, c.Tables.Memories)

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
