// Package publish coordinates the two-phase publish and rollback
// operations: validate, snapshot the draft into an immutable version in
// one store transaction, then hand a visibility event to the scheduler.
// Publishing never waits for indexing.
package publish

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/token"
)

// StatusVersionCreated is returned as soon as the version is durable;
// searchability follows asynchronously.
const StatusVersionCreated = "version_created"

// perItemEstimate feeds the estimated_searchable_in hint.
const perItemEstimate = 250 * time.Millisecond

// Submitter is the scheduler surface the coordinator needs.
type Submitter interface {
	Submit(event.Visibility) error
	Depths() (queued, inFlight int)
}

// Request is a publish call.
type Request struct {
	NoteID      string
	Collections []string // collection ids or names, at least one known
	Label       string
	ClientToken string
}

// Response carries the created (or replayed) version.
type Response struct {
	VersionID             string        `json:"version_id"`
	NoteID                string        `json:"note_id"`
	Status                string        `json:"status"`
	Reused                bool          `json:"reused"`
	EstimatedSearchableIn int64         `json:"estimated_searchable_in_ms"`
}

// RollbackResponse carries the restoring version.
type RollbackResponse struct {
	NewVersionID          string        `json:"new_version_id"`
	NoteID                string        `json:"note_id"`
	TargetVersionID       string        `json:"target_version_id"`
	Status                string        `json:"status"`
	Reused                bool          `json:"reused"`
	EstimatedSearchableIn int64         `json:"estimated_searchable_in_ms"`
}

// Coordinator validates and persists publications.
type Coordinator struct {
	db    *store.DB
	sched Submitter
	log   *zap.Logger
}

func NewCoordinator(db *store.DB, sched Submitter, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{db: db, sched: sched, log: log}
}

// Publish snapshots the note's draft into a new version and enqueues
// its visibility event. Idempotent by (note_id, client_token): a replay
// with the same payload returns the prior result and emits nothing.
func (c *Coordinator) Publish(req Request) (Response, error) {
	if req.ClientToken == "" {
		return Response{}, apperr.Validation("client_token is required", "client_token")
	}
	label := req.Label
	if label == "" {
		label = store.LabelMinor
	}
	if label != store.LabelMinor && label != store.LabelMajor {
		return Response{}, apperr.Validation(
			fmt.Sprintf("label must be %q or %q", store.LabelMinor, store.LabelMajor), "label")
	}

	note, err := c.db.GetNote(req.NoteID)
	if err != nil {
		return Response{}, err
	}

	cols, err := c.resolveCollections(req.Collections)
	if err != nil {
		return Response{}, err
	}

	draft, err := c.db.GetDraft(req.NoteID)
	if apperr.Is(err, apperr.KindNotFound) {
		return Response{}, apperr.Validation("note has no draft to publish", "note_id")
	}
	if err != nil {
		return Response{}, err
	}
	if len(draft.BodyMD) > 1_000_000 {
		return Response{}, apperr.Validation("draft body exceeds 1,000,000 characters", "body_md")
	}

	normalized := token.Normalize(draft.BodyMD)
	rec, err := c.db.PublishVersion(store.PublishArgs{
		NoteID:        req.NoteID,
		BodyMD:        draft.BodyMD,
		Tags:          draft.Tags,
		ContentHash:   token.HashContent(normalized),
		CollectionIDs: cols,
		Label:         label,
		ClientToken:   req.ClientToken,
		PayloadHash:   payloadHash("publish", draft.BodyMD, label, cols),
		ConsumeDraft:  true,
	})
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		VersionID: rec.Version.ID,
		NoteID:    note.ID,
		Status:    StatusVersionCreated,
		Reused:    rec.Reused,
	}
	if rec.Reused {
		resp.EstimatedSearchableIn = c.estimate()
		return resp, nil
	}

	if err := c.afterCommit(rec, event.OpPublish, rec.Publication.CollectionIDs); err != nil {
		return Response{}, err
	}
	resp.EstimatedSearchableIn = c.estimate()
	return resp, nil
}

// Rollback publishes a new version whose body equals the target's. The
// target is never mutated; the new version's parent is the target and
// its label is major.
func (c *Coordinator) Rollback(noteID, targetVersionID, clientToken string) (RollbackResponse, error) {
	if clientToken == "" {
		return RollbackResponse{}, apperr.Validation("client_token is required", "client_token")
	}
	if _, err := c.db.GetNote(noteID); err != nil {
		return RollbackResponse{}, err
	}
	target, err := c.db.GetVersion(targetVersionID)
	if err != nil {
		return RollbackResponse{}, err
	}
	if target.NoteID != noteID {
		return RollbackResponse{}, apperr.Validation(
			"target version belongs to a different note", "target_version_id")
	}

	// A rollback republishes into the collections of the note's most
	// recent publication.
	cols, err := c.latestCollections(noteID)
	if err != nil {
		return RollbackResponse{}, err
	}

	rec, err := c.db.PublishVersion(store.PublishArgs{
		NoteID:          noteID,
		BodyMD:          target.BodyMD,
		Tags:            target.Tags,
		ContentHash:     target.ContentHash,
		CollectionIDs:   cols,
		Label:           store.LabelMajor,
		ParentVersionID: target.ID,
		ClientToken:     clientToken,
		PayloadHash:     payloadHash("rollback", target.ID, store.LabelMajor, cols),
	})
	if err != nil {
		return RollbackResponse{}, err
	}

	resp := RollbackResponse{
		NewVersionID:    rec.Version.ID,
		NoteID:          noteID,
		TargetVersionID: targetVersionID,
		Status:          StatusVersionCreated,
		Reused:          rec.Reused,
	}
	if !rec.Reused {
		if err := c.afterCommit(rec, event.OpRollback, cols); err != nil {
			return RollbackResponse{}, err
		}
	}
	resp.EstimatedSearchableIn = c.estimate()
	return resp, nil
}

// afterCommit emits the durable events and enqueues scheduler work for
// a freshly created version.
func (c *Coordinator) afterCommit(rec store.PublishRecord, op event.VisibilityOp, cols []string) error {
	v := rec.Version
	c.db.AppendEvent(event.New(event.TypeVersionCreated, map[string]string{
		"version_id": v.ID, "note_id": v.NoteID, "content_hash": v.ContentHash,
	}))

	vis := event.Visibility{
		VersionID:   v.ID,
		NoteID:      v.NoteID,
		Op:          op,
		Collections: cols,
	}
	c.db.AppendEvent(event.New(event.TypeVisibilityEvent, vis))

	if err := c.sched.Submit(vis); err != nil {
		c.log.Warn("visibility submit failed",
			zap.String("version_id", v.ID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Coordinator) resolveCollections(refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, apperr.Validation("at least one collection is required", "collections")
	}
	cols, err := c.db.ResolveCollections(refs)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, apperr.Validation("no known collections in request", "collections")
	}
	return cols, nil
}

func (c *Coordinator) latestCollections(noteID string) ([]string, error) {
	pubs, err := c.db.CurrentPublications()
	if err != nil {
		return nil, err
	}
	for _, p := range pubs {
		if p.NoteID == noteID {
			return p.CollectionIDs, nil
		}
	}
	return nil, apperr.Validation("note has never been published", "note_id")
}

func (c *Coordinator) estimate() int64 {
	queued, inFlight := c.sched.Depths()
	return (time.Duration(queued+inFlight+1) * perItemEstimate).Milliseconds()
}

func payloadHash(op, body, label string, cols []string) string {
	return token.HashContent(strings.Join(append([]string{op, body, label}, cols...), "\x1e"))
}
