// Package store owns the single embedded SQLite file that backs both the
// subscription table and (via internal/queue) the dispatch queue tables,
// following the teacher's persistence style: WAL journal mode, a bounded
// busy timeout, and a single open connection so that SQLite's own locking
// gives us the "single serialized writer" the design calls for.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens (creating if needed) the relay's SQLite file at path and
// ensures the subscriptions table exists. Queue tables are migrated
// separately by the queue package against the same *sql.DB.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening db: %w", err)
	}
	// SQLite's own file lock is what gives us "one serialized writer"; a
	// single connection avoids SQLITE_BUSY races between goroutines that a
	// connection pool would otherwise introduce.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS subscriptions (
		uuid TEXT PRIMARY KEY,
		subscription_json BLOB NOT NULL,
		created_at_unix_ms INTEGER NOT NULL,
		delete_token TEXT NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating subscriptions table: %w", err)
	}

	return db, nil
}
