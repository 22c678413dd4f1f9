// Package passage holds the searchable passages of committed versions.
// Passages are derived data: the store is rebuilt from version content
// and lives in memory alongside the index segments.
package passage

import (
	"sort"
	"sync"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/chunk"
)

// Passage is a chunked slice of one version, addressable by id and
// carrying the anchor that citations resolve through.
type Passage struct {
	ID        string
	NoteID    string
	VersionID string
	chunk.Passage
	Anchor anchor.Anchor
}

// Store is a concurrency-safe passage registry keyed by passage id and
// by version id.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]Passage
	byVersion map[string][]string
}

func NewStore() *Store {
	return &Store{
		byID:      make(map[string]Passage),
		byVersion: make(map[string][]string),
	}
}

// Put registers passages for a version, replacing any previous set.
func (s *Store) Put(versionID string, passages []Passage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(versionID)
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		s.byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	s.byVersion[versionID] = ids
}

// Get returns a passage by id.
func (s *Store) Get(id string) (Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Passage{}, apperr.NotFound("passage", id)
	}
	return p, nil
}

// ByVersion returns a version's passages in token order.
func (s *Store) ByVersion(versionID string) []Passage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byVersion[versionID]
	out := make([]Passage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenOffset < out[j].TokenOffset })
	return out
}

// DeleteByVersion drops a version's passages, if any.
func (s *Store) DeleteByVersion(versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(versionID)
}

func (s *Store) removeLocked(versionID string) {
	for _, id := range s.byVersion[versionID] {
		delete(s.byID, id)
	}
	delete(s.byVersion, versionID)
}

// Versions lists every version id with registered passages, sorted.
func (s *Store) Versions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byVersion))
	for v := range s.byVersion {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored passages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
