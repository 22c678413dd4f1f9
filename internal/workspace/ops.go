package workspace

import (
	"context"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/publish"
	"github.com/inkwell-labs/inkwell/internal/query"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/token"
	"github.com/inkwell-labs/inkwell/internal/visibility"
)

// CreateNote inserts a note with an empty draft.
func (w *Workspace) CreateNote(title string, tags []string) (store.Note, error) {
	return w.db.CreateNote(title, tags)
}

func (w *Workspace) GetNote(id string) (store.Note, error) { return w.db.GetNote(id) }

func (w *Workspace) ListNotes() ([]store.Note, error) { return w.db.ListNotes() }

func (w *Workspace) UpdateNote(id, title string, tags []string) error {
	return w.db.UpdateNote(id, title, tags)
}

// DeleteNote removes the note and, when it was published, rebuilds the
// index without it so no orphaned passages stay searchable.
func (w *Workspace) DeleteNote(id string) error {
	if err := w.db.DeleteNote(id); err != nil {
		return err
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	cn, ok := w.corpus[id]
	if !ok {
		return nil
	}
	next := make(map[string]corpusNote, len(w.corpus))
	for note, c := range w.corpus {
		if note != id {
			next[note] = c
		}
	}
	if err := w.commitCorpusLocked(context.Background(), next); err != nil {
		return err
	}
	w.corpus = next
	w.passages.DeleteByVersion(cn.versionID)
	return nil
}

// SaveDraft overwrites the note's draft. Drafts are never searchable,
// so no index work follows.
func (w *Workspace) SaveDraft(noteID, bodyMD string, tags []string) (store.Draft, error) {
	d, err := w.db.SaveDraft(noteID, bodyMD, tags)
	if err != nil {
		return store.Draft{}, err
	}
	w.db.AppendEvent(event.New(event.TypeDraftSaved, map[string]any{
		"note_id": noteID, "autosave_ts": d.AutosaveTS, "body_chars": len(bodyMD),
	}))
	return d, nil
}

func (w *Workspace) GetDraft(noteID string) (store.Draft, error) { return w.db.GetDraft(noteID) }

func (w *Workspace) DeleteDraft(noteID string) error { return w.db.DeleteDraft(noteID) }

// Publish snapshots the draft into an immutable version and queues the
// visibility event. Returns before the version is searchable.
func (w *Workspace) Publish(req publish.Request) (publish.Response, error) {
	return w.pub.Publish(req)
}

// Rollback restores a prior version's content as a new version.
func (w *Workspace) Rollback(noteID, targetVersionID, clientToken string) (publish.RollbackResponse, error) {
	return w.pub.Rollback(noteID, targetVersionID, clientToken)
}

func (w *Workspace) GetVersion(id string) (store.Version, error) { return w.db.GetVersion(id) }

// ListVersions pages a note's history newest first.
func (w *Workspace) ListVersions(noteID string, page, pageSize int) ([]store.Version, int, error) {
	return w.db.ListVersions(noteID, page, pageSize)
}

// Search runs the query pipeline against the committed index.
func (w *Workspace) Search(req query.Request) (query.Response, error) {
	return w.queries.Search(req)
}

// AnchorResolution is the outcome of resolving an anchor against a
// version, including the covered text when resolution succeeds.
type AnchorResolution struct {
	anchor.Resolution
	VersionID string `json:"version_id"`
	Text      string `json:"text,omitempty"`
}

// ResolveAnchor resolves an anchor against the given version's current
// body and extracts the covered text.
func (w *Workspace) ResolveAnchor(versionID string, a anchor.Anchor) (AnchorResolution, error) {
	v, err := w.db.GetVersion(versionID)
	if err != nil {
		return AnchorResolution{}, err
	}
	candidate := token.Normalize(v.BodyMD)
	res := w.anchors.Resolve(a, "", candidate)
	out := AnchorResolution{Resolution: res, VersionID: versionID}
	if res.Resolved {
		tz := token.Tokenize(candidate)
		start, end, ok := tz.ByteRange(res.TokenOffset, res.TokenLength)
		if !ok {
			return AnchorResolution{}, apperr.Newf(apperr.KindValidation,
				"InvalidTokenSpan: [%d, %d) outside %d tokens",
				res.TokenOffset, res.TokenOffset+res.TokenLength, tz.Total())
		}
		out.Text = tz.Text[start:end]
	}
	return out, nil
}

// VisibilityStatus reports where a version stands in the pipeline.
// Versions committed before this process started are reported committed
// when they form the note's current corpus entry.
func (w *Workspace) VisibilityStatus(versionID string) (visibility.Status, error) {
	st, err := w.sched.Status(versionID)
	if err == nil {
		return st, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return visibility.Status{}, err
	}

	v, verr := w.db.GetVersion(versionID)
	if verr != nil {
		return visibility.Status{}, err
	}
	w.commitMu.Lock()
	cn, ok := w.corpus[v.NoteID]
	w.commitMu.Unlock()
	if ok && cn.versionID == versionID {
		return visibility.Status{
			VersionID: versionID,
			NoteID:    v.NoteID,
			Stage:     visibility.StageCommitted,
		}, nil
	}
	return visibility.Status{}, err
}

// AwaitVisible blocks until the version commits, fails, or ctx expires.
func (w *Workspace) AwaitVisible(ctx context.Context, versionID string) (visibility.Status, error) {
	st, err := w.sched.AwaitStage(ctx, versionID, visibility.StageCommitted)
	if err != nil {
		return st, err
	}
	if st.Stage == visibility.StageFailed {
		return st, apperr.Newf(apperr.KindIndexingFailure, "visibility failed: %s", st.Error)
	}
	return st, nil
}

func (w *Workspace) CreateCollection(name, description string) (store.Collection, error) {
	return w.db.CreateCollection(name, description)
}

func (w *Workspace) ListCollections() ([]store.Collection, error) {
	return w.db.ListCollections()
}

func (w *Workspace) ListEvents(eventType string, limit int) ([]event.Envelope, error) {
	return w.db.ListEvents(eventType, limit)
}

// Status is the workspace health summary.
type Status struct {
	Stats           store.Stats `json:"stats"`
	Passages        int         `json:"passages"`
	IndexGeneration uint64      `json:"index_generation"`
	QueueDepth      int         `json:"queue_depth"`
	InFlight        int         `json:"in_flight"`
}

func (w *Workspace) Status() (Status, error) {
	stats, err := w.db.WorkspaceStats()
	if err != nil {
		return Status{}, err
	}
	_, gen := w.registry.Current()
	queued, inFlight := w.sched.Depths()
	return Status{
		Stats:           stats,
		Passages:        w.passages.Len(),
		IndexGeneration: gen,
		QueueDepth:      queued,
		InFlight:        inFlight,
	}, nil
}
