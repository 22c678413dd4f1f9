package store

import (
	"time"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/event"
)

// AppendEvent persists an envelope. Re-appending the same event id is a
// no-op, which keeps replaying producers idempotent.
func (db *DB) AppendEvent(env event.Envelope) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec(
		`INSERT OR IGNORE INTO events (event_id, timestamp, schema_version, type, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		env.EventID, env.Timestamp.Format(timeLayout), env.SchemaVersion, env.Type, string(env.Payload),
	); err != nil {
		return sqlErr("append event", err)
	}
	return nil
}

// ListEvents returns the newest events, optionally filtered by type.
func (db *DB) ListEvents(eventType string, limit int) ([]event.Envelope, error) {
	query := `SELECT event_id, timestamp, schema_version, type, payload FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY timestamp DESC, event_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, apperr.StorageIO("list events", err)
	}
	defer rows.Close()

	var out []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var ts, payload string
		if err := rows.Scan(&env.EventID, &ts, &env.SchemaVersion, &env.Type, &payload); err != nil {
			return nil, apperr.StorageIO("scan event", err)
		}
		env.Timestamp, _ = time.Parse(timeLayout, ts)
		env.Payload = []byte(payload)
		out = append(out, env)
	}
	return out, rows.Err()
}

// Stats summarizes workspace contents for the status surface.
type Stats struct {
	Notes        int
	Drafts       int
	Versions     int
	Collections  int
	Publications int
	Events       int
}

// WorkspaceStats counts the persisted entities.
func (db *DB) WorkspaceStats() (Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"notes", &s.Notes},
		{"drafts", &s.Drafts},
		{"versions", &s.Versions},
		{"collections", &s.Collections},
		{"publications", &s.Publications},
		{"events", &s.Events},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(`SELECT COUNT(*) FROM ` + c.table).Scan(c.dst); err != nil {
			return Stats{}, apperr.StorageIO("count "+c.table, err)
		}
	}
	return s, nil
}
