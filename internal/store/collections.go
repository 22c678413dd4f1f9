package store

import (
	"database/sql"
	"time"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/ids"
)

// Collection groups published notes. Names are unique per workspace,
// case-insensitively.
type Collection struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// CreateCollection inserts a collection. Duplicate names (any case) are
// a conflict.
func (db *DB) CreateCollection(name, description string) (Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return Collection{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	c := Collection{
		ID:          ids.New(ids.Collection),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := db.conn.Exec(
		`INSERT INTO collections (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.CreatedAt.Format(timeLayout),
	); err != nil {
		return Collection{}, sqlErr("create collection", err)
	}
	return c, nil
}

// GetCollection returns a collection by id.
func (db *DB) GetCollection(id string) (Collection, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, description, created_at FROM collections WHERE id = ?`, id)
	return scanCollection(row, id)
}

// GetCollectionByName resolves a name case-insensitively.
func (db *DB) GetCollectionByName(name string) (Collection, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, description, created_at FROM collections WHERE lower(name) = lower(?)`, name)
	return scanCollection(row, name)
}

// ListCollections returns all collections by name.
func (db *DB) ListCollections() ([]Collection, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, description, created_at FROM collections ORDER BY lower(name)`)
	if err != nil {
		return nil, apperr.StorageIO("list collections", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &createdAt); err != nil {
			return nil, apperr.StorageIO("scan collection", err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveCollections maps ids or names to collection ids. Unknown
// entries are silently dropped; the caller decides what an empty result
// means.
func (db *DB) ResolveCollections(refs []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		c, err := db.GetCollection(ref)
		if apperr.Is(err, apperr.KindNotFound) {
			c, err = db.GetCollectionByName(ref)
		}
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c.ID)
		}
	}
	return out, nil
}

// AttachNoteCollection records note membership, idempotently.
func (db *DB) AttachNoteCollection(noteID, collectionID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec(
		`INSERT OR IGNORE INTO note_collections (note_id, collection_id) VALUES (?, ?)`,
		noteID, collectionID,
	); err != nil {
		return sqlErr("attach note collection", err)
	}
	return nil
}

// DetachNoteCollection removes note membership.
func (db *DB) DetachNoteCollection(noteID, collectionID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec(
		`DELETE FROM note_collections WHERE note_id = ? AND collection_id = ?`,
		noteID, collectionID,
	); err != nil {
		return sqlErr("detach note collection", err)
	}
	return nil
}

func scanCollection(row *sql.Row, ref string) (Collection, error) {
	var c Collection
	var createdAt string
	err := row.Scan(&c.ID, &c.Name, &c.Description, &createdAt)
	if err == sql.ErrNoRows {
		return Collection{}, apperr.NotFound("collection", ref)
	}
	if err != nil {
		return Collection{}, apperr.StorageIO("get collection", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return c, nil
}
