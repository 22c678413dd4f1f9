package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/ids"
)

const timeLayout = time.RFC3339Nano

// Note is the mutable container owning one draft and any number of
// immutable versions.
type Note struct {
	ID               string
	Title            string
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CurrentVersionID string
}

// Draft is a note's editable body. Last write wins; never searchable.
type Draft struct {
	NoteID     string
	BodyMD     string
	Tags       []string
	AutosaveTS time.Time
}

// CreateNote inserts a note with a fresh id and an empty draft.
func (db *DB) CreateNote(title string, tags []string) (Note, error) {
	if err := validateTitle(title); err != nil {
		return Note{}, err
	}
	if err := validateTags(tags); err != nil {
		return Note{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC()
	n := Note{
		ID:        ids.New(ids.Note),
		Title:     title,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return Note{}, apperr.StorageIO("begin create note", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO notes (id, title, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Title, marshalTags(n.Tags), now.Format(timeLayout), now.Format(timeLayout),
	); err != nil {
		return Note{}, sqlErr("create note", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO drafts (note_id, body_md, tags, autosave_ts) VALUES (?, '', ?, ?)`,
		n.ID, marshalTags(n.Tags), now.Format(timeLayout),
	); err != nil {
		return Note{}, sqlErr("create draft", err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, apperr.StorageIO("commit create note", err)
	}
	return n, nil
}

// GetNote returns a note by id.
func (db *DB) GetNote(id string) (Note, error) {
	var n Note
	var tags, createdAt, updatedAt string
	var current sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, title, tags, created_at, updated_at, current_version_id FROM notes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Title, &tags, &createdAt, &updatedAt, &current)
	if err == sql.ErrNoRows {
		return Note{}, apperr.NotFound("note", id)
	}
	if err != nil {
		return Note{}, apperr.StorageIO("get note", err)
	}
	n.Tags = unmarshalTags(tags)
	n.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	n.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	n.CurrentVersionID = current.String
	return n, nil
}

// ListNotes returns all notes ordered by creation.
func (db *DB) ListNotes() ([]Note, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, tags, created_at, updated_at, current_version_id FROM notes ORDER BY id`)
	if err != nil {
		return nil, apperr.StorageIO("list notes", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var tags, createdAt, updatedAt string
		var current sql.NullString
		if err := rows.Scan(&n.ID, &n.Title, &tags, &createdAt, &updatedAt, &current); err != nil {
			return nil, apperr.StorageIO("scan note", err)
		}
		n.Tags = unmarshalTags(tags)
		n.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		n.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		n.CurrentVersionID = current.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNote changes title and tags.
func (db *DB) UpdateNote(id, title string, tags []string) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if err := validateTags(tags); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`UPDATE notes SET title = ?, tags = ?, updated_at = ? WHERE id = ?`,
		title, marshalTags(tags), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return sqlErr("update note", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("note", id)
	}
	return nil
}

// DeleteNote removes a note; drafts, versions and memberships cascade.
func (db *DB) DeleteNote(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return sqlErr("delete note", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("note", id)
	}
	return nil
}

// SaveDraft overwrites the note's draft. The previous row is preserved
// on failure: the update is a single statement, never a partial write.
func (db *DB) SaveDraft(noteID, bodyMD string, tags []string) (Draft, error) {
	if err := validateTags(tags); err != nil {
		return Draft{}, err
	}
	if len(bodyMD) > maxBodyChars {
		return Draft{}, apperr.Validation("draft body exceeds limit", "body_md")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`UPDATE drafts SET body_md = ?, tags = ?, autosave_ts = ? WHERE note_id = ?`,
		bodyMD, marshalTags(tags), now.Format(timeLayout), noteID)
	if err != nil {
		return Draft{}, sqlErr("save draft", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Draft row was consumed by a publish or never created.
		if _, err := db.conn.Exec(
			`INSERT INTO drafts (note_id, body_md, tags, autosave_ts) VALUES (?, ?, ?, ?)`,
			noteID, bodyMD, marshalTags(tags), now.Format(timeLayout),
		); err != nil {
			return Draft{}, sqlErr("save draft", err)
		}
	}
	return Draft{NoteID: noteID, BodyMD: bodyMD, Tags: tags, AutosaveTS: now}, nil
}

// GetDraft returns the note's draft.
func (db *DB) GetDraft(noteID string) (Draft, error) {
	var d Draft
	var tags, ts string
	err := db.conn.QueryRow(
		`SELECT note_id, body_md, tags, autosave_ts FROM drafts WHERE note_id = ?`, noteID,
	).Scan(&d.NoteID, &d.BodyMD, &tags, &ts)
	if err == sql.ErrNoRows {
		return Draft{}, apperr.NotFound("draft", noteID)
	}
	if err != nil {
		return Draft{}, apperr.StorageIO("get draft", err)
	}
	d.Tags = unmarshalTags(tags)
	d.AutosaveTS, _ = time.Parse(timeLayout, ts)
	return d, nil
}

// HasDraft reports whether the note has a draft row.
func (db *DB) HasDraft(noteID string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM drafts WHERE note_id = ?`, noteID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.StorageIO("has draft", err)
	}
	return true, nil
}

// DeleteDraft drops the note's draft row, if any.
func (db *DB) DeleteDraft(noteID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec(`DELETE FROM drafts WHERE note_id = ?`, noteID); err != nil {
		return sqlErr("delete draft", err)
	}
	return nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(s string) []string {
	var tags []string
	json.Unmarshal([]byte(s), &tags)
	return tags
}
