package store

import (
	"database/sql"
	"time"

	"github.com/inkwell-labs/inkwell/internal/apperr"
)

// Version labels.
const (
	LabelMinor = "minor"
	LabelMajor = "major"
)

// Version is an immutable snapshot of a note's body. Rollback never
// mutates one; it creates a new version pointing at the target.
type Version struct {
	ID              string
	NoteID          string
	BodyMD          string
	Tags            []string
	ContentHash     string
	CreatedAt       time.Time
	ParentVersionID string
	Label           string
}

// GetVersion returns a version by id.
func (db *DB) GetVersion(id string) (Version, error) {
	row := db.conn.QueryRow(
		`SELECT id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label
		 FROM versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return Version{}, apperr.NotFound("version", id)
	}
	if err != nil {
		return Version{}, apperr.StorageIO("get version", err)
	}
	return v, nil
}

// ListVersions pages a note's versions, newest first.
func (db *DB) ListVersions(noteID string, page, pageSize int) ([]Version, int, error) {
	if _, err := db.GetNote(noteID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM versions WHERE note_id = ?`, noteID).Scan(&total); err != nil {
		return nil, 0, apperr.StorageIO("count versions", err)
	}

	rows, err := db.conn.Query(
		`SELECT id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label
		 FROM versions WHERE note_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		noteID, pageSize, page*pageSize)
	if err != nil {
		return nil, 0, apperr.StorageIO("list versions", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, apperr.StorageIO("scan version", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	var tags, createdAt string
	var parent sql.NullString
	if err := row.Scan(&v.ID, &v.NoteID, &v.BodyMD, &tags, &v.ContentHash,
		&createdAt, &parent, &v.Label); err != nil {
		return Version{}, err
	}
	v.Tags = unmarshalTags(tags)
	v.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	v.ParentVersionID = parent.String
	return v, nil
}
