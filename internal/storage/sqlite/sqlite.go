// Package sqlite implements the storage interfaces on SQLite via the
// pure-Go modernc.org/sqlite driver. One database file holds all three
// tables (recall items, archival records, index id map); every query
// is scoped by agent_id.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/stratamem/strata/internal/storage"
)

// DB wraps the shared SQLite handle used by the recall, archive, and
// index map stores.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn, configures WAL mode,
// and creates the schema. Use ":memory:" for tests.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open
	// connection serialises writes and avoids SQLITE_BUSY under
	// concurrent load; WAL mode lets readers proceed without blocking
	// the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Handle exposes the underlying *sql.DB.
func (d *DB) Handle() *sql.DB { return d.db }

// Compile-time assertions that the SQLite stores satisfy the storage
// interfaces.
var (
	_ storage.RecallStore   = (*RecallStore)(nil)
	_ storage.ArchiveStore  = (*ArchiveStore)(nil)
	_ storage.IndexMapStore = (*IndexMapStore)(nil)
)

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }
