package sqlbase

import (
	"fmt"
	"strconv"
	"strings"
)

// SQLite is the dialect of the mattn/go-sqlite3 driver.
type SQLite struct{}

func (SQLite) Rebind(query string) string { return query }

func (SQLite) UpsertEntitySQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, user_id, name, type, confidence) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, confidence = COALESCE(excluded.confidence, %s.confidence)`, table, table)
}

func (SQLite) InsertLinkSQL(table string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (memory_id, entity_id) VALUES (?, ?)", table)
}

// Postgres is the dialect of the lib/pq driver.
type Postgres struct{}

// Rebind turns each '?' into $1, $2, ... in order.
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (Postgres) UpsertEntitySQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, user_id, name, type, confidence) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, confidence = COALESCE(EXCLUDED.confidence, %s.confidence)`, table, table)
}

func (Postgres) InsertLinkSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (memory_id, entity_id) VALUES (?, ?) ON CONFLICT DO NOTHING", table)
}

// MySQL is the dialect of go-sql-driver/mysql, used for OceanBase.
type MySQL struct{}

func (MySQL) Rebind(query string) string { return query }

func (MySQL) UpsertEntitySQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, user_id, name, type, confidence) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), type = VALUES(type), confidence = COALESCE(VALUES(confidence), confidence)`, table)
}

func (MySQL) InsertLinkSQL(table string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (memory_id, entity_id) VALUES (?, ?)", table)
}
