// Package workspace is the composition root. It owns the store, the
// passage registry, the segmented index, the visibility scheduler and
// the query engine, and exposes the operations the CLI, HTTP and MCP
// shells call.
package workspace

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/chunk"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/ids"
	"github.com/inkwell-labs/inkwell/internal/index"
	"github.com/inkwell-labs/inkwell/internal/passage"
	"github.com/inkwell-labs/inkwell/internal/publish"
	"github.com/inkwell-labs/inkwell/internal/query"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/token"
	"github.com/inkwell-labs/inkwell/internal/visibility"
)

// corpusNote is one note's committed contribution to the searchable
// corpus.
type corpusNote struct {
	versionID   string
	collections []string
}

// Workspace wires the persistent store to the in-memory search state.
// The committed corpus is the latest publication per note; drafts never
// enter it.
type Workspace struct {
	cfg *config.Config
	log *zap.Logger

	db       *store.DB
	passages *passage.Store
	registry *index.Registry
	anchors  *anchor.Engine
	sched    *visibility.Scheduler
	pub      *publish.Coordinator
	queries  *query.Engine

	// commitMu serializes index commits and guards corpus. Builds run
	// concurrently; only the merge-and-swap is single file.
	commitMu sync.Mutex
	corpus   map[string]corpusNote

	stagedMu sync.Mutex
	staged   map[string][]passage.Passage
}

// Open creates the workspace data directory if needed, opens the store
// under the single-writer lock, and rebuilds the search state from the
// current publications.
func Open(cfg *config.Config, log *zap.Logger) (*Workspace, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return nil, apperr.StorageIO("create data dir", err)
	}
	db, err := store.Open(cfg.DBPath(), cfg.LockPath())
	if err != nil {
		return nil, err
	}
	w, err := New(cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// New assembles a workspace over an already-open store. The scheduler
// is started; call Close to drain it.
func New(cfg *config.Config, db *store.DB, log *zap.Logger) (*Workspace, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Workspace{
		cfg:      cfg,
		log:      log,
		db:       db,
		passages: passage.NewStore(),
		registry: index.NewRegistry(log),
		anchors:  anchor.NewEngine(token.Algo(cfg.Fingerprint.Algo)),
		corpus:   make(map[string]corpusNote),
		staged:   make(map[string][]passage.Passage),
	}
	w.pub = publish.NewCoordinator(db, schedProxy{w}, log)
	w.queries = query.NewEngine(query.Config{
		TopKRetrieve:       cfg.Query.TopKRetrieve,
		TopKRerank:         cfg.Query.TopKRerank,
		TopKRerankDegraded: cfg.Query.TopKRerankDegraded,
		MaxPageSize:        cfg.Query.MaxPageSize,
		SLODegrade:         time.Duration(cfg.Query.SLODegradeMS) * time.Millisecond,
		SLORecover:         time.Duration(cfg.Query.SLORecoverMS) * time.Millisecond,
	}, w.registry, db, db, w.anchors, db, log)

	if err := w.bootstrap(); err != nil {
		return nil, err
	}

	w.sched = visibility.New(cfg.Scheduler, w, log)
	w.sched.Start()
	return w, nil
}

// schedProxy defers Submit/Depths to the scheduler, which does not
// exist yet when the coordinator is constructed.
type schedProxy struct{ w *Workspace }

func (p schedProxy) Submit(ev event.Visibility) error {
	return p.w.sched.Submit(ev)
}

func (p schedProxy) Depths() (int, int) {
	return p.w.sched.Depths()
}

// Close drains the scheduler and releases the store lock.
func (w *Workspace) Close() error {
	if w.sched != nil {
		w.sched.Stop()
	}
	return w.db.Close()
}

// bootstrap rebuilds passages and the index from the latest publication
// of every note. An empty corpus still commits an empty segment so
// searches return no results instead of IndexNotReady.
func (w *Workspace) bootstrap() error {
	pubs, err := w.db.CurrentPublications()
	if err != nil {
		return err
	}
	for _, p := range pubs {
		v, err := w.db.GetVersion(p.VersionID)
		if err != nil {
			return err
		}
		ps, err := w.buildPassages(v)
		if err != nil {
			return err
		}
		w.passages.Put(v.ID, ps)
		w.corpus[p.NoteID] = corpusNote{versionID: p.VersionID, collections: p.CollectionIDs}
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	return w.commitCorpusLocked(context.Background(), w.corpus)
}

// buildPassages chunks a version's normalized body and attaches a
// content anchor to every passage.
func (w *Workspace) buildPassages(v store.Version) ([]passage.Passage, error) {
	normalized := token.Normalize(v.BodyMD)
	chunks, err := chunk.Split(normalized, chunk.Config{
		MaxTokensPerPassage:         w.cfg.Chunker.MaxTokensPerPassage,
		OverlapTokens:               w.cfg.Chunker.OverlapTokens,
		MaxNoteTokens:               w.cfg.Chunker.MaxNoteTokens,
		MinPassageTokens:            w.cfg.Chunker.MinPassageTokens,
		PreserveStructureBoundaries: w.cfg.Chunker.PreserveStructureBoundaries,
	})
	if err != nil {
		return nil, err
	}

	out := make([]passage.Passage, 0, len(chunks))
	for _, c := range chunks {
		a, err := w.anchors.Create(normalized, c.TokenOffset, c.TokenLength)
		if err != nil {
			return nil, err
		}
		out = append(out, passage.Passage{
			ID:        ids.New(ids.Passage),
			NoteID:    v.NoteID,
			VersionID: v.ID,
			Passage:   c,
			Anchor:    a,
		})
	}
	return out, nil
}

// Build is the first scheduler stage: chunk and anchor the event's
// version, staging the result for Commit. Heavy per-version work runs
// here, outside the commit lock.
func (w *Workspace) Build(ctx context.Context, ev event.Visibility) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := w.db.GetVersion(ev.VersionID)
	if err != nil {
		return err
	}
	ps, err := w.buildPassages(v)
	if err != nil {
		return err
	}

	w.stagedMu.Lock()
	w.staged[ev.VersionID] = ps
	w.stagedMu.Unlock()
	return nil
}

// Commit is the second scheduler stage: merge the staged version into
// the corpus, rebuild the segment, health-gate and swap. A failed gate
// leaves the previous index serving.
func (w *Workspace) Commit(ctx context.Context, ev event.Visibility) error {
	w.stagedMu.Lock()
	ps, ok := w.staged[ev.VersionID]
	delete(w.staged, ev.VersionID)
	w.stagedMu.Unlock()
	if !ok {
		return apperr.Newf(apperr.KindIndexingFailure, "no staged build for %s", ev.VersionID)
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.db.AppendEvent(event.New(event.TypeIndexUpdateStarted, map[string]string{
		"version_id": ev.VersionID, "note_id": ev.NoteID, "op": string(ev.Op),
	}))

	prev, hadPrev := w.corpus[ev.NoteID]
	w.passages.Put(ev.VersionID, ps)

	next := make(map[string]corpusNote, len(w.corpus)+1)
	for note, cn := range w.corpus {
		next[note] = cn
	}
	next[ev.NoteID] = corpusNote{versionID: ev.VersionID, collections: ev.Collections}

	if err := w.commitCorpusLocked(ctx, next); err != nil {
		if !hadPrev || prev.versionID != ev.VersionID {
			w.passages.DeleteByVersion(ev.VersionID)
		}
		w.db.AppendEvent(event.New(event.TypeIndexUpdateFailed, map[string]string{
			"version_id": ev.VersionID, "error": err.Error(),
		}))
		return err
	}

	w.corpus = next
	if hadPrev && prev.versionID != ev.VersionID {
		w.passages.DeleteByVersion(prev.versionID)
	}
	w.db.AppendEvent(event.New(event.TypeIndexUpdateCommitted, map[string]string{
		"version_id": ev.VersionID, "note_id": ev.NoteID,
	}))
	return nil
}

// commitCorpusLocked builds a full segment over the given corpus and
// swaps it in through the registry's health gate. Caller holds
// commitMu.
func (w *Workspace) commitCorpusLocked(ctx context.Context, corpus map[string]corpusNote) error {
	notes := make([]string, 0, len(corpus))
	for note := range corpus {
		notes = append(notes, note)
	}
	sort.Strings(notes)

	var docs []index.Doc
	var versions []string
	for _, note := range notes {
		cn := corpus[note]
		versions = append(versions, cn.versionID)
		for _, p := range w.passages.ByVersion(cn.versionID) {
			docs = append(docs, index.Doc{
				PassageID:     p.ID,
				VersionID:     p.VersionID,
				NoteID:        p.NoteID,
				CollectionIDs: cn.collections,
				StructurePath: p.StructurePath,
				TokenOffset:   p.TokenOffset,
				TokenLength:   p.TokenLength,
				Content:       p.Content,
				Snippet:       p.Snippet,
				Anchor:        p.Anchor,
			})
		}
	}

	seg, err := index.Build(ctx, ids.New(ids.Corpus), docs)
	if err != nil {
		return err
	}
	return w.registry.Commit(seg, versions)
}
