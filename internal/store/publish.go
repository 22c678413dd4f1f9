package store

import (
	"database/sql"
	"time"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/ids"
)

// Publication records one publish or rollback of a note version into a
// set of collections.
type Publication struct {
	ID            string
	NoteID        string
	VersionID     string
	CollectionIDs []string
	PublishedAt   time.Time
	Label         string
}

// PublishArgs is the pre-validated input to PublishVersion. BodyMD,
// ContentHash and Label are decided by the coordinator; CollectionIDs
// are already resolved to existing ids.
type PublishArgs struct {
	NoteID        string
	BodyMD        string
	Tags          []string
	ContentHash   string
	CollectionIDs []string
	Label         string

	// ParentVersionID overrides the note's current version as parent;
	// rollback points it at the target. Empty means current.
	ParentVersionID string

	ClientToken string
	PayloadHash string

	// ConsumeDraft deletes the note's draft row in the same transaction.
	ConsumeDraft bool
}

// PublishRecord is the outcome of PublishVersion. Reused is set when an
// idempotency token replayed a prior result.
type PublishRecord struct {
	Publication Publication
	Version     Version
	Reused      bool
}

// PublishVersion runs the two-phase publish against the store in a
// single transaction: idempotency check, version snapshot, note update,
// publication row and collection links, optional draft consumption,
// token record. Either everything lands or nothing does.
func (db *DB) PublishVersion(args PublishArgs) (PublishRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return PublishRecord{}, apperr.StorageIO("begin publish", err)
	}
	defer tx.Rollback()

	// Idempotency: a replayed token returns the prior result unchanged.
	var prevHash, prevVersion string
	err = tx.QueryRow(
		`SELECT payload_hash, version_id FROM idempotency_tokens WHERE note_id = ? AND client_token = ?`,
		args.NoteID, args.ClientToken,
	).Scan(&prevHash, &prevVersion)
	switch {
	case err == nil:
		if prevHash != args.PayloadHash {
			return PublishRecord{}, apperr.Conflict(
				"client_token already used with a different payload")
		}
		return db.replayPublish(tx, prevVersion)
	case err != sql.ErrNoRows:
		return PublishRecord{}, apperr.StorageIO("idempotency lookup", err)
	}

	var currentVersion sql.NullString
	err = tx.QueryRow(
		`SELECT current_version_id FROM notes WHERE id = ?`, args.NoteID,
	).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		return PublishRecord{}, apperr.NotFound("note", args.NoteID)
	}
	if err != nil {
		return PublishRecord{}, apperr.StorageIO("read note", err)
	}

	parent := args.ParentVersionID
	if parent == "" {
		parent = currentVersion.String
	}

	now := time.Now().UTC()
	// Versions of one note carry strictly increasing timestamps even
	// under sub-resolution clock ticks.
	var lastCreated sql.NullString
	if err := tx.QueryRow(
		`SELECT MAX(created_at) FROM versions WHERE note_id = ?`, args.NoteID,
	).Scan(&lastCreated); err != nil {
		return PublishRecord{}, apperr.StorageIO("read last version time", err)
	}
	if lastCreated.Valid {
		if last, perr := time.Parse(timeLayout, lastCreated.String); perr == nil && !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}

	v := Version{
		ID:              ids.New(ids.Version),
		NoteID:          args.NoteID,
		BodyMD:          args.BodyMD,
		Tags:            args.Tags,
		ContentHash:     args.ContentHash,
		CreatedAt:       now,
		ParentVersionID: parent,
		Label:           args.Label,
	}
	if _, err := tx.Exec(
		`INSERT INTO versions (id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.NoteID, v.BodyMD, marshalTags(v.Tags), v.ContentHash,
		now.Format(timeLayout), nullable(parent), v.Label,
	); err != nil {
		return PublishRecord{}, sqlErr("insert version", err)
	}

	if _, err := tx.Exec(
		`UPDATE notes SET current_version_id = ?, updated_at = ? WHERE id = ?`,
		v.ID, now.Format(timeLayout), args.NoteID,
	); err != nil {
		return PublishRecord{}, sqlErr("update note head", err)
	}

	p := Publication{
		ID:            ids.New(ids.Publication),
		NoteID:        args.NoteID,
		VersionID:     v.ID,
		CollectionIDs: args.CollectionIDs,
		PublishedAt:   now,
		Label:         args.Label,
	}
	if _, err := tx.Exec(
		`INSERT INTO publications (id, note_id, version_id, published_at, label) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.NoteID, p.VersionID, now.Format(timeLayout), p.Label,
	); err != nil {
		return PublishRecord{}, sqlErr("insert publication", err)
	}
	for _, colID := range args.CollectionIDs {
		if _, err := tx.Exec(
			`INSERT INTO publication_collections (publication_id, collection_id) VALUES (?, ?)`,
			p.ID, colID,
		); err != nil {
			return PublishRecord{}, sqlErr("link publication collection", err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO note_collections (note_id, collection_id) VALUES (?, ?)`,
			args.NoteID, colID,
		); err != nil {
			return PublishRecord{}, sqlErr("link note collection", err)
		}
	}

	if args.ConsumeDraft {
		if _, err := tx.Exec(`DELETE FROM drafts WHERE note_id = ?`, args.NoteID); err != nil {
			return PublishRecord{}, sqlErr("consume draft", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO idempotency_tokens (note_id, client_token, payload_hash, version_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		args.NoteID, args.ClientToken, args.PayloadHash, v.ID, now.Format(timeLayout),
	); err != nil {
		return PublishRecord{}, sqlErr("record idempotency token", err)
	}

	if err := tx.Commit(); err != nil {
		return PublishRecord{}, apperr.StorageIO("commit publish", err)
	}
	return PublishRecord{Publication: p, Version: v}, nil
}

// replayPublish loads the version and publication a prior token
// produced.
func (db *DB) replayPublish(tx *sql.Tx, versionID string) (PublishRecord, error) {
	row := tx.QueryRow(
		`SELECT id, note_id, body_md, tags, content_hash, created_at, parent_version_id, label
		 FROM versions WHERE id = ?`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		return PublishRecord{}, apperr.StorageIO("replay version", err)
	}

	var p Publication
	var publishedAt string
	err = tx.QueryRow(
		`SELECT id, note_id, version_id, published_at, label FROM publications
		 WHERE version_id = ? ORDER BY rowid DESC LIMIT 1`, versionID,
	).Scan(&p.ID, &p.NoteID, &p.VersionID, &publishedAt, &p.Label)
	if err != nil {
		return PublishRecord{}, apperr.StorageIO("replay publication", err)
	}
	p.PublishedAt, _ = time.Parse(timeLayout, publishedAt)

	rows, err := tx.Query(
		`SELECT collection_id FROM publication_collections WHERE publication_id = ? ORDER BY collection_id`, p.ID)
	if err != nil {
		return PublishRecord{}, apperr.StorageIO("replay publication collections", err)
	}
	defer rows.Close()
	for rows.Next() {
		var colID string
		if err := rows.Scan(&colID); err != nil {
			return PublishRecord{}, apperr.StorageIO("scan collection id", err)
		}
		p.CollectionIDs = append(p.CollectionIDs, colID)
	}
	return PublishRecord{Publication: p, Version: v, Reused: true}, rows.Err()
}

// CurrentPublications returns each note's most recent publication with
// its collection ids. This is the committed corpus definition used on
// startup rebuilds.
func (db *DB) CurrentPublications() ([]Publication, error) {
	rows, err := db.conn.Query(
		`SELECT p.id, p.note_id, p.version_id, p.published_at, p.label
		 FROM publications p
		 JOIN (SELECT note_id, MAX(rowid) AS r FROM publications GROUP BY note_id) latest
		   ON p.rowid = latest.r
		 ORDER BY p.note_id`)
	if err != nil {
		return nil, apperr.StorageIO("current publications", err)
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		var p Publication
		var publishedAt string
		if err := rows.Scan(&p.ID, &p.NoteID, &p.VersionID, &publishedAt, &p.Label); err != nil {
			return nil, apperr.StorageIO("scan publication", err)
		}
		p.PublishedAt, _ = time.Parse(timeLayout, publishedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageIO("iterate publications", err)
	}

	for i := range out {
		cols, err := db.publicationCollections(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].CollectionIDs = cols
	}
	return out, nil
}

func (db *DB) publicationCollections(publicationID string) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT collection_id FROM publication_collections WHERE publication_id = ? ORDER BY collection_id`,
		publicationID)
	if err != nil {
		return nil, apperr.StorageIO("publication collections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.StorageIO("scan collection id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneIdempotencyTokens removes tokens older than the retention
// window.
func (db *DB) PruneIdempotencyTokens(olderThan time.Duration) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	if _, err := db.conn.Exec(
		`DELETE FROM idempotency_tokens WHERE created_at < ?`, cutoff); err != nil {
		return sqlErr("prune idempotency tokens", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
