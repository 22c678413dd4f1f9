// Package store is the SQLite persistence layer: notes, drafts,
// versions, collections, publications, idempotency tokens and the event
// log. It is the sole authority for draft and version state; index
// segments are derived from it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/inkwell-labs/inkwell/internal/apperr"
)

// schemaVersion of the persisted layout. Opening a newer database fails
// with SchemaVersionMismatch.
const schemaVersion = 1

// DB wraps a SQLite connection. Writes are serialized through mu; reads
// go straight to the pool.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex // serialize writes
	lock *flock.Flock
}

// Open opens or creates the workspace database. The flock file guards
// against two processes opening the same workspace read-write.
func Open(dbPath, lockPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !locked {
		return nil, apperr.Conflict("workspace is locked by another process")
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, lock: fl}
	if err := db.migrate(); err != nil {
		conn.Close()
		fl.Unlock()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database for testing. Same schema, no
// lock file.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// The in-memory database vanishes with its connection.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the connection and releases the workspace lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	if db.lock != nil {
		if uerr := db.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			current_version_id TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS drafts (
			note_id TEXT PRIMARY KEY REFERENCES notes(id) ON DELETE CASCADE,
			body_md TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			autosave_ts TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS versions (
			id TEXT PRIMARY KEY,
			note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			body_md TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			content_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			parent_version_id TEXT,
			label TEXT NOT NULL DEFAULT 'minor'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_note ON versions(note_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_name ON collections(lower(name))`,

		`CREATE TABLE IF NOT EXISTS note_collections (
			note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			PRIMARY KEY (note_id, collection_id)
		)`,

		`CREATE TABLE IF NOT EXISTS publications (
			id TEXT PRIMARY KEY,
			note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			version_id TEXT NOT NULL REFERENCES versions(id),
			published_at TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publications_note ON publications(note_id)`,

		`CREATE TABLE IF NOT EXISTS publication_collections (
			publication_id TEXT NOT NULL REFERENCES publications(id) ON DELETE CASCADE,
			collection_id TEXT NOT NULL REFERENCES collections(id),
			PRIMARY KEY (publication_id, collection_id)
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_tokens (
			note_id TEXT NOT NULL,
			client_token TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			version_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (note_id, client_token)
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	var stored int
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.conn.Exec(
			`INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case stored > schemaVersion:
		return apperr.SchemaMismatch(schemaVersion, stored)
	}
	return nil
}

// sqlErr classifies a driver error for the core taxonomy.
func sqlErr(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return apperr.Conflict(op + ": " + msg)
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return apperr.Conflict(op + ": " + msg)
	}
	return apperr.StorageIO(op, err)
}
