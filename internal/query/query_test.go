package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/chunk"
	"github.com/inkwell-labs/inkwell/internal/index"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/token"
)

type fakeStore struct {
	versions    map[string]store.Version
	collections map[string]string // name or id -> id
}

func (f *fakeStore) GetVersion(id string) (store.Version, error) {
	v, ok := f.versions[id]
	if !ok {
		return store.Version{}, apperr.NotFound("version", id)
	}
	return v, nil
}

func (f *fakeStore) ResolveCollections(refs []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, ref := range refs {
		if id, ok := f.collections[ref]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

type fixture struct {
	store   *fakeStore
	anchors *anchor.Engine
	docs    []index.Doc
	corpus  []string
}

func newFixture() *fixture {
	return &fixture{
		store: &fakeStore{
			versions:    map[string]store.Version{},
			collections: map[string]string{},
		},
		anchors: anchor.NewEngine(token.AlgoSHA256),
	}
}

// addNote indexes one single-passage version whose anchor covers the
// whole body.
func (f *fixture) addNote(t *testing.T, note, version, body string, cols ...string) {
	t.Helper()
	normalized := token.Normalize(body)
	total := token.Tokenize(normalized).Total()
	a, err := f.anchors.Create(normalized, 0, total)
	require.NoError(t, err)

	f.store.versions[version] = store.Version{ID: version, NoteID: note, BodyMD: body}
	f.docs = append(f.docs, index.Doc{
		PassageID:     "pas_" + version,
		VersionID:     version,
		NoteID:        note,
		CollectionIDs: cols,
		StructurePath: "/",
		TokenLength:   total,
		Content:       normalized,
		Snippet:       chunk.Snippet(normalized),
		Anchor:        a,
	})
	f.corpus = append(f.corpus, version)
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	reg := index.NewRegistry(zap.NewNop())
	seg, err := index.Build(context.Background(), "cor_test", f.docs)
	require.NoError(t, err)
	require.NoError(t, reg.Commit(seg, f.corpus))
	return NewEngine(testQueryCfg(), reg, f.store, f.store, f.anchors, nil, zap.NewNop())
}

func testQueryCfg() Config {
	return Config{
		TopKRetrieve:       128,
		TopKRerank:         64,
		TopKRerankDegraded: 32,
		MaxPageSize:        50,
		SLODegrade:         500 * time.Millisecond,
		SLORecover:         400 * time.Millisecond,
	}
}

func TestSearchAnswersWithCitations(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "SQLite uses write ahead logging for concurrency")
	f.addNote(t, "note_2", "ver_2", "Completely unrelated gardening advice")

	resp, err := f.engine(t).Search(Request{Text: "sqlite logging"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	require.Equal(t, "ver_1", resp.Results[0].VersionID)

	require.NotNil(t, resp.Answer)
	require.Empty(t, resp.NoAnswerReason)
	require.Len(t, resp.Answer.Citations, 1)
	require.Equal(t, 1.0, resp.Answer.Citations[0].Confidence)
	require.Equal(t, resp.Answer.Text, resp.Results[0].Snippet)
	require.Equal(t, Coverage{Claims: 1, Cited: 1}, resp.Answer.Coverage)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "body")
	e := f.engine(t)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'q'
	}
	for _, req := range []Request{
		{Text: ""},
		{Text: "   "},
		{Text: string(long)},
		{Text: "ok", Page: -1},
		{Text: "ok", PageSize: -1},
	} {
		_, err := e.Search(req)
		require.True(t, apperr.Is(err, apperr.KindValidation), "req %+v: %v", req, err)
	}
}

func TestSearchEmptyScope(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "findable body", "col_1")
	f.store.collections["col_1"] = "col_1"

	resp, err := f.engine(t).Search(Request{Text: "findable", Collections: []string{"ghost"}})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Nil(t, resp.Answer)
	require.Equal(t, ReasonEmptyScope, resp.NoAnswerReason)
}

func TestSearchUnknownCollectionIgnored(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "scoped body", "col_1")
	f.store.collections["work"] = "col_1"

	resp, err := f.engine(t).Search(Request{Text: "scoped", Collections: []string{"work", "ghost"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestSearchDedupByNoteVersion(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "repeated theme alpha")
	// Second passage of the same version, lower score stays hidden.
	f.docs = append(f.docs, index.Doc{
		PassageID:     "pas_dup",
		VersionID:     "ver_1",
		NoteID:        "note_1",
		StructurePath: "/",
		Content:       "theme mentioned once among much other filler text here",
		Snippet:       "theme mentioned once",
		Anchor:        f.docs[0].Anchor,
	})

	resp, err := f.engine(t).Search(Request{Text: "theme"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.TotalCount)
	require.Len(t, resp.Results, 1)
}

func TestSearchPagination(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.addNote(t, fmt.Sprintf("note_%d", i), fmt.Sprintf("ver_%d", i), "shared searchable phrase")
	}
	e := f.engine(t)

	page0, err := e.Search(Request{Text: "searchable", PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page0.TotalCount)
	require.Len(t, page0.Results, 2)
	require.True(t, page0.HasMore)

	page2, err := e.Search(Request{Text: "searchable", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page2.Results, 1)
	require.False(t, page2.HasMore)

	// Past the end: empty but well-formed.
	page9, err := e.Search(Request{Text: "searchable", Page: 9, PageSize: 2})
	require.NoError(t, err)
	require.Empty(t, page9.Results)
	require.False(t, page9.HasMore)
}

func TestSearchNoMatches(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "nothing relevant lives here")

	resp, err := f.engine(t).Search(Request{Text: "xylophone"})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Nil(t, resp.Answer)
	require.Equal(t, ReasonInsufficientEvidence, resp.NoAnswerReason)
}

func TestSearchUnresolvedAnchorsOmitAnswer(t *testing.T) {
	f := newFixture()
	f.addNote(t, "note_1", "ver_1", "anchored searchable body")
	// The stored version body no longer matches what was indexed.
	f.store.versions["ver_1"] = store.Version{
		ID: "ver_1", NoteID: "note_1", BodyMD: "entirely rewritten elsewhere",
	}

	resp, err := f.engine(t).Search(Request{Text: "searchable"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "results do not require resolution")
	require.Nil(t, resp.Answer)
	require.Equal(t, ReasonUnresolvedAnchors, resp.NoAnswerReason)
}

func TestSearchIndexNotReady(t *testing.T) {
	f := newFixture()
	reg := index.NewRegistry(zap.NewNop())
	e := NewEngine(testQueryCfg(), reg, f.store, f.store, f.anchors, nil, zap.NewNop())

	_, err := e.Search(Request{Text: "anything"})
	require.True(t, apperr.Is(err, apperr.KindIndexNotReady), "got %v", err)
}

func TestSearchDeterministic(t *testing.T) {
	f := newFixture()
	for i := 0; i < 8; i++ {
		f.addNote(t, fmt.Sprintf("note_%d", i), fmt.Sprintf("ver_%d", i), "identical corpus body")
	}
	e := f.engine(t)

	first, err := e.Search(Request{Text: "corpus", PageSize: 8})
	require.NoError(t, err)
	second, err := e.Search(Request{Text: "corpus", PageSize: 8})
	require.NoError(t, err)
	require.Equal(t, first.Results, second.Results)
}

func TestSLOBackpressure(t *testing.T) {
	tr := newSLOTracker(500*time.Millisecond, 400*time.Millisecond)

	for i := 0; i < sloWindow; i++ {
		tr.record(600 * time.Millisecond)
	}
	require.True(t, tr.degraded(), "p95 above threshold should degrade")

	for i := 0; i < sloWindow; i++ {
		tr.record(100 * time.Millisecond)
	}
	require.False(t, tr.degraded(), "fast window should restore")
}

func TestCitationCap(t *testing.T) {
	f := newFixture()
	for i := 0; i < 6; i++ {
		f.addNote(t, fmt.Sprintf("note_%d", i), fmt.Sprintf("ver_%d", i), "citable shared topic body")
	}

	resp, err := f.engine(t).Search(Request{Text: "citable topic"})
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	require.Len(t, resp.Answer.Citations, 3)
	require.Equal(t, 3, resp.Answer.Coverage.Claims)
	require.Equal(t, 3, resp.Answer.Coverage.Cited)
}
