// Package watcher mirrors markdown files in the drafts directory into
// note drafts. Edits are debounced and saved last-write-wins; published
// content is never touched from here.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/store"
)

const debounceDelay = 2 * time.Second

// DraftSink receives draft updates from watched files.
type DraftSink interface {
	CreateNote(title string, tags []string) (store.Note, error)
	SaveDraft(noteID, bodyMD string, tags []string) (store.Draft, error)
	DeleteDraft(noteID string) error
}

// fileMeta is the recognized frontmatter. A file without a note_id gets
// a note created on first save, keyed by path for the session.
type fileMeta struct {
	NoteID string   `yaml:"note_id"`
	Title  string   `yaml:"title"`
	Tags   []string `yaml:"tags"`
}

// Watcher tails a drafts directory.
type Watcher struct {
	root     string
	sink     DraftSink
	log      *zap.Logger
	debounce time.Duration

	mu          sync.Mutex
	pending     map[string]bool
	timer       *time.Timer
	notesByPath map[string]string
}

func New(root string, sink DraftSink, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		root:        root,
		sink:        sink,
		log:         log,
		debounce:    debounceDelay,
		pending:     make(map[string]bool),
		notesByPath: make(map[string]string),
	}
}

// Run watches until ctx is done. The drafts directory is created if
// missing.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return apperr.StorageIO("create drafts dir", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.StorageIO("create watcher", err)
	}
	defer fw.Close()

	for _, d := range w.walkDirs() {
		if err := fw.Add(d); err != nil {
			w.log.Warn("cannot watch directory", zap.String("dir", d), zap.Error(err))
		}
	}
	w.log.Info("watching drafts", zap.String("root", w.root))

	// Pick up files that existed before the watcher started.
	w.scanExisting()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".md") {
		// New subdirectories join the watch set.
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := fw.Add(ev.Name); err != nil {
					w.log.Warn("cannot watch directory", zap.String("dir", ev.Name), zap.Error(err))
				}
			}
		}
		return
	}

	switch {
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		w.enqueue(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// Rename events carry the old path; the new path arrives as a
		// separate Create.
		w.fileGone(ev.Name)
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush saves every pending file as a draft.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	for _, p := range paths {
		if err := w.saveFile(p); err != nil {
			w.log.Warn("draft save failed", zap.String("path", p), zap.Error(err))
		}
	}
}

func (w *Watcher) saveFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		w.fileGone(path)
		return nil
	}
	if err != nil {
		return apperr.StorageIO("open draft file", err)
	}
	defer f.Close()

	var meta fileMeta
	body, err := frontmatter.Parse(f, &meta)
	if err != nil {
		return apperr.Validation("unparseable frontmatter", filepath.Base(path))
	}

	noteID := meta.NoteID
	if noteID == "" {
		noteID = w.noteFor(path, meta)
	}
	if noteID == "" {
		return nil
	}

	_, err = w.sink.SaveDraft(noteID, string(body), meta.Tags)
	if err == nil {
		w.log.Debug("draft saved", zap.String("path", path), zap.String("note_id", noteID))
	}
	return err
}

// noteFor returns the session's note for an un-annotated file, creating
// one titled after the file on first sight.
func (w *Watcher) noteFor(path string, meta fileMeta) string {
	w.mu.Lock()
	if id, ok := w.notesByPath[path]; ok {
		w.mu.Unlock()
		return id
	}
	w.mu.Unlock()

	title := meta.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	note, err := w.sink.CreateNote(title, meta.Tags)
	if err != nil {
		w.log.Warn("cannot create note for draft file",
			zap.String("path", path), zap.Error(err))
		return ""
	}

	w.mu.Lock()
	w.notesByPath[path] = note.ID
	w.mu.Unlock()
	return note.ID
}

// fileGone clears the draft of a file this session created a note for.
// Files tied to notes by explicit note_id keep their drafts; deleting
// the file is not deleting the note.
func (w *Watcher) fileGone(path string) {
	w.mu.Lock()
	noteID, ok := w.notesByPath[path]
	delete(w.notesByPath, path)
	delete(w.pending, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := w.sink.DeleteDraft(noteID); err != nil {
		w.log.Warn("draft delete failed", zap.String("note_id", noteID), zap.Error(err))
	}
}

func (w *Watcher) scanExisting() {
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".md") {
			w.enqueue(path)
		}
		return nil
	})
}

func (w *Watcher) walkDirs() []string {
	var dirs []string
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}
