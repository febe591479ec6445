// Package sqlbase implements the relational reads and writes shared by the
// SQLite, PostgreSQL and OceanBase backends.
//
// Queries are written with '?' placeholders and rebound by the backend's
// Dialect. Vector search stays in each backend since every engine scores
// vectors differently.
package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lorekeeper/recall/pkg/storage"
)

// maxInArgs bounds the size of a single IN (...) list.
const maxInArgs = 500

// Dialect hides the SQL differences between backends.
type Dialect interface {
	// Rebind rewrites '?' placeholders into the backend's form.
	Rebind(query string) string

	// UpsertEntitySQL returns an insert-or-update statement for the entity
	// table taking (id, user_id, name, type, confidence). A NULL confidence
	// keeps the stored one.
	UpsertEntitySQL(table string) string

	// InsertLinkSQL returns an insert statement for the link table taking
	// (memory_id, entity_id) that ignores duplicates.
	InsertLinkSQL(table string) string
}

// Tables names the three tables of a collection.
type Tables struct {
	Memories string
	Entities string
	Links    string
}

// TablesFor derives table names from a collection name.
func TablesFor(collection string) Tables {
	return Tables{
		Memories: collection,
		Entities: collection + "_entities",
		Links:    collection + "_entity_links",
	}
}

// Store holds the connection and implements the dialect-independent parts of
// storage.Store.
type Store struct {
	// DB is the open connection pool.
	DB *sql.DB

	// Tables are the collection's table names.
	Tables Tables

	dialect Dialect
}

// New creates a Store over an open connection.
func New(db *sql.DB, collection string, dialect Dialect) *Store {
	return &Store{DB: db, Tables: TablesFor(collection), dialect: dialect}
}

// Rebind rewrites a '?' query for this store's dialect.
func (s *Store) Rebind(query string) string {
	return s.dialect.Rebind(query)
}

const memoryColumns = "id, user_id, content, tags, created_at"

// InsertMemory inserts a memory row and its entity links in one
// transaction.
func (s *Store) InsertMemory(ctx context.Context, m *storage.Memory) (err error) {
	tagsJSON, err := json.Marshal(nonNil(m.Tags))
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertMemory: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := s.Rebind(fmt.Sprintf(
		"INSERT INTO %s (id, user_id, content, tags, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		s.Tables.Memories))
	if _, err = tx.ExecContext(ctx, query,
		m.ID, m.UserID, m.Content, string(tagsJSON), storage.VectorToString(m.Embedding), m.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}

	for _, entityID := range m.EntityIDs {
		if err = s.linkEntity(ctx, tx, m.ID, entityID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("InsertMemory: commit: %w", err)
	}
	return nil
}

// UpsertEntity inserts or updates an entity.
func (s *Store) UpsertEntity(ctx context.Context, e *storage.Entity) error {
	var confidence sql.NullFloat64
	if e.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
	}

	query := s.Rebind(s.dialect.UpsertEntitySQL(s.Tables.Entities))
	if _, err := s.DB.ExecContext(ctx, query, e.ID, e.UserID, e.Name, e.Type, confidence); err != nil {
		return fmt.Errorf("UpsertEntity: %w", err)
	}
	return nil
}

// LinkEntity links a memory to an entity. Existing links are kept.
func (s *Store) LinkEntity(ctx context.Context, memoryID, entityID string) error {
	return s.linkEntity(ctx, s.DB, memoryID, entityID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) linkEntity(ctx context.Context, db execer, memoryID, entityID string) error {
	query := s.Rebind(s.dialect.InsertLinkSQL(s.Tables.Links))
	if _, err := db.ExecContext(ctx, query, memoryID, entityID); err != nil {
		return fmt.Errorf("LinkEntity: %w", err)
	}
	return nil
}

// GetMemories implements storage.MemoryReader.
func (s *Store) GetMemories(ctx context.Context, userID string, ids []string) ([]*storage.Memory, error) {
	var out []*storage.Memory
	for _, chunk := range chunks(dedupe(ids), maxInArgs) {
		args := []interface{}{userID}
		for _, id := range chunk {
			args = append(args, id)
		}
		query := s.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? AND id IN (%s)",
			memoryColumns, s.Tables.Memories, placeholders(len(chunk))))

		memories, err := s.query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("GetMemories: %w", err)
		}
		out = append(out, memories...)
	}

	if err := s.AttachEntities(ctx, out); err != nil {
		return nil, fmt.Errorf("GetMemories: %w", err)
	}
	return out, nil
}

// ListMemories implements storage.MemoryReader.
func (s *Store) ListMemories(ctx context.Context, userID string, limit int) ([]*storage.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := s.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at DESC, id ASC LIMIT ?",
		memoryColumns, s.Tables.Memories))

	memories, err := s.query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	if err := s.AttachEntities(ctx, memories); err != nil {
		return nil, fmt.Errorf("ListMemories: %w", err)
	}
	return memories, nil
}

// SearchContent implements storage.ContentSearcher with a case-insensitive
// substring match, newest first.
func (s *Store) SearchContent(ctx context.Context, userID, text string, limit int) ([]*storage.Memory, error) {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	query := s.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE user_id = ? AND LOWER(content) LIKE ? ESCAPE '!' ORDER BY created_at DESC, id ASC LIMIT ?",
		memoryColumns, s.Tables.Memories))

	memories, err := s.query(ctx, query, userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("SearchContent: %w", err)
	}
	if err := s.AttachEntities(ctx, memories); err != nil {
		return nil, fmt.Errorf("SearchContent: %w", err)
	}
	return memories, nil
}

// FindEntities implements storage.EntityReader.
func (s *Store) FindEntities(ctx context.Context, userID string, names []string) ([]*storage.Entity, error) {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			lowered = append(lowered, n)
		}
	}
	lowered = dedupe(lowered)
	if len(lowered) == 0 {
		return nil, nil
	}

	args := []interface{}{userID}
	for _, n := range lowered {
		args = append(args, n)
	}
	query := s.Rebind(fmt.Sprintf(
		"SELECT id, user_id, name, type, confidence FROM %s WHERE user_id = ? AND LOWER(name) IN (%s) ORDER BY id",
		s.Tables.Entities, placeholders(len(lowered))))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("FindEntities: %w", err)
	}
	defer rows.Close()

	var entities []*storage.Entity
	for rows.Next() {
		var (
			e          storage.Entity
			entityType sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &entityType, &confidence); err != nil {
			return nil, fmt.Errorf("FindEntities: %w", err)
		}
		e.Type = entityType.String
		if confidence.Valid {
			v := confidence.Float64
			e.Confidence = &v
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindEntities: %w", err)
	}
	return entities, nil
}

// MemoriesForEntities implements storage.EntityReader.
func (s *Store) MemoriesForEntities(ctx context.Context, userID string, entityIDs []string, limit int) ([]*storage.Memory, error) {
	entityIDs = dedupe(entityIDs)
	if len(entityIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	if len(entityIDs) > maxInArgs {
		entityIDs = entityIDs[:maxInArgs]
	}

	args := []interface{}{userID}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	query := s.Rebind(fmt.Sprintf(`
		SELECT m.id, m.user_id, m.content, m.tags, m.created_at, COUNT(l.entity_id) AS hits
		FROM %s m JOIN %s l ON l.memory_id = m.id
		WHERE m.user_id = ? AND l.entity_id IN (%s)
		GROUP BY m.id, m.user_id, m.content, m.tags, m.created_at
		ORDER BY hits DESC, m.created_at DESC, m.id ASC
		LIMIT ?`, s.Tables.Memories, s.Tables.Links, placeholders(len(entityIDs))))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("MemoriesForEntities: %w", err)
	}
	defer rows.Close()

	var memories []*storage.Memory
	for rows.Next() {
		var hits int64
		m, err := ScanMemory(rows, &hits)
		if err != nil {
			return nil, fmt.Errorf("MemoriesForEntities: %w", err)
		}
		m.Score = float64(hits)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("MemoriesForEntities: %w", err)
	}

	if err := s.AttachEntities(ctx, memories); err != nil {
		return nil, fmt.Errorf("MemoriesForEntities: %w", err)
	}
	return memories, nil
}

// EntityConfidence implements storage.EntityReader.
func (s *Store) EntityConfidence(ctx context.Context, entityID string) (float64, error) {
	query := s.Rebind(fmt.Sprintf("SELECT confidence FROM %s WHERE id = ?", s.Tables.Entities))

	var confidence sql.NullFloat64
	err := s.DB.QueryRowContext(ctx, query, entityID).Scan(&confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("EntityConfidence: %w", err)
	}
	if !confidence.Valid {
		return 0, storage.ErrNotFound
	}
	return confidence.Float64, nil
}

// AttachEntities fills EntityIDs on each memory from the link table.
func (s *Store) AttachEntities(ctx context.Context, memories []*storage.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	byID := make(map[string]*storage.Memory, len(memories))
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		m.EntityIDs = nil
		if _, ok := byID[m.ID]; !ok {
			ids = append(ids, m.ID)
		}
		byID[m.ID] = m
	}

	for _, chunk := range chunks(ids, maxInArgs) {
		args := make([]interface{}, 0, len(chunk))
		for _, id := range chunk {
			args = append(args, id)
		}
		query := s.Rebind(fmt.Sprintf(
			"SELECT memory_id, entity_id FROM %s WHERE memory_id IN (%s) ORDER BY memory_id, entity_id",
			s.Tables.Links, placeholders(len(chunk))))

		rows, err := s.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("AttachEntities: %w", err)
		}
		for rows.Next() {
			var memoryID, entityID string
			if err := rows.Scan(&memoryID, &entityID); err != nil {
				rows.Close()
				return fmt.Errorf("AttachEntities: %w", err)
			}
			if m, ok := byID[memoryID]; ok {
				m.EntityIDs = append(m.EntityIDs, entityID)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("AttachEntities: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*storage.Memory, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := ScanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// Scanner is the subset of *sql.Rows and *sql.Row used by ScanMemory.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// ScanMemory scans the memoryColumns in order, followed by any extra
// destinations the caller selected after them.
func ScanMemory(row Scanner, extra ...interface{}) (*storage.Memory, error) {
	var (
		m         storage.Memory
		tags      sql.NullString
		createdAt Timestamp
	)
	dest := append([]interface{}{&m.ID, &m.UserID, &m.Content, &tags, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt.Time
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// SortByScore orders memories by Score descending, then id.
func SortByScore(memories []*storage.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		return memories[i].ID < memories[j].ID
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
