package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
)

func doc(passage, version, note, content string, collections ...string) Doc {
	return Doc{
		PassageID:     passage,
		VersionID:     version,
		NoteID:        note,
		CollectionIDs: collections,
		StructurePath: "/",
		Content:       content,
		Snippet:       content,
	}
}

func build(t *testing.T, docs ...Doc) *Segment {
	t.Helper()
	seg, err := Build(context.Background(), "cor_test", docs)
	if err != nil {
		t.Fatal(err)
	}
	if seg.State() != StateReady {
		t.Fatalf("segment state = %q", seg.State())
	}
	return seg
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	seg := build(t,
		doc("pas_a", "ver_1", "note_1", "the sqlite storage layer uses wal mode", "col_1"),
		doc("pas_b", "ver_2", "note_2", "gardening tips for dry climates", "col_1"),
		doc("pas_c", "ver_3", "note_3", "sqlite pragma tuning and sqlite locking", "col_1"),
	)

	hits := seg.Retrieve("sqlite", nil, 10)
	if len(hits) != 2 {
		t.Fatalf("got %d hits: %+v", len(hits), hits)
	}
	if hits[0].PassageID != "pas_c" {
		t.Errorf("top hit = %s, want the doc mentioning the term twice", hits[0].PassageID)
	}
	for _, h := range hits {
		if h.Score <= 0 {
			t.Errorf("hit %s score = %f", h.PassageID, h.Score)
		}
	}
}

func TestRetrieveStructurePathBoost(t *testing.T) {
	a := doc("pas_a", "ver_1", "note_1", "some unrelated body text", "col_1")
	a.StructurePath = "/deployment"
	b := doc("pas_b", "ver_2", "note_2", "deployment mentioned once in passing", "col_1")
	b.Snippet = "mentioned once in passing"

	seg := build(t, a, b)
	hits := seg.Retrieve("deployment", nil, 10)
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].PassageID != "pas_a" {
		t.Errorf("structure-path match should outrank content match, got %s first", hits[0].PassageID)
	}
}

func TestRetrieveDeterministicTieBreak(t *testing.T) {
	seg := build(t,
		doc("pas_b", "ver_2", "note_2", "identical twin content", "col_1"),
		doc("pas_a", "ver_1", "note_1", "identical twin content", "col_1"),
	)
	for i := 0; i < 5; i++ {
		hits := seg.Retrieve("twin", nil, 10)
		if len(hits) != 2 {
			t.Fatalf("got %d hits", len(hits))
		}
		if hits[0].VersionID != "ver_1" || hits[1].VersionID != "ver_2" {
			t.Fatalf("tie break unstable: %s before %s", hits[0].VersionID, hits[1].VersionID)
		}
	}
}

func TestRetrieveCollectionFilter(t *testing.T) {
	seg := build(t,
		doc("pas_a", "ver_1", "note_1", "shared topic", "col_work"),
		doc("pas_b", "ver_2", "note_2", "shared topic", "col_personal"),
	)

	hits := seg.Retrieve("topic", []string{"col_work"}, 10)
	if len(hits) != 1 || hits[0].PassageID != "pas_a" {
		t.Errorf("filtered hits = %+v", hits)
	}
	if got := seg.Retrieve("topic", nil, 10); len(got) != 2 {
		t.Errorf("unfiltered hits = %d, want 2", len(got))
	}
	if got := seg.Retrieve("topic", []string{"col_unknown"}, 10); len(got) != 0 {
		t.Errorf("unknown collection returned %d hits", len(got))
	}
}

func TestRetrieveTopK(t *testing.T) {
	var docs []Doc
	for i := 0; i < 20; i++ {
		docs = append(docs, doc(
			fmt.Sprintf("pas_%02d", i), fmt.Sprintf("ver_%02d", i),
			fmt.Sprintf("note_%02d", i), "common term here", "col_1"))
	}
	seg := build(t, docs...)
	if hits := seg.Retrieve("common", nil, 5); len(hits) != 5 {
		t.Errorf("topK hits = %d, want 5", len(hits))
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	seg := build(t, doc("pas_a", "ver_1", "note_1", "anything", "col_1"))
	if hits := seg.Retrieve("   ", nil, 10); hits != nil {
		t.Errorf("blank query hits = %+v", hits)
	}
}

func TestSegmentVersions(t *testing.T) {
	seg := build(t,
		doc("pas_a", "ver_2", "note_1", "x"),
		doc("pas_b", "ver_1", "note_2", "y"),
		doc("pas_c", "ver_1", "note_2", "z"),
	)
	got := seg.Versions()
	if len(got) != 2 || got[0] != "ver_1" || got[1] != "ver_2" {
		t.Errorf("Versions = %v", got)
	}
}

func TestRegistryNotReadyBeforeFirstCommit(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	_, err := r.Retrieve("anything", nil, 10)
	if !apperr.Is(err, apperr.KindIndexNotReady) {
		t.Errorf("want IndexNotReady, got %v", err)
	}
}

func TestRegistryCommitAndSwap(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	first := build(t, doc("pas_a", "ver_1", "note_1", "first corpus"))
	if err := r.Commit(first, []string{"ver_1"}); err != nil {
		t.Fatal(err)
	}
	if _, gen := r.Current(); gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}

	second := build(t, doc("pas_b", "ver_2", "note_1", "second corpus"))
	if err := r.Commit(second, []string{"ver_2"}); err != nil {
		t.Fatal(err)
	}
	hits, err := r.Retrieve("second", nil, 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("hits after swap = %+v, %v", hits, err)
	}
	if _, gen := r.Current(); gen != 2 {
		t.Errorf("generation = %d, want 2", gen)
	}
}

func TestRegistryFailedGateKeepsOldIndex(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	good := build(t, doc("pas_a", "ver_1", "note_1", "committed body"))
	if err := r.Commit(good, []string{"ver_1"}); err != nil {
		t.Fatal(err)
	}

	// ver_2 declared in the corpus but has no passages.
	bad := build(t, doc("pas_b", "ver_1", "note_1", "partial"))
	err := r.Commit(bad, []string{"ver_1", "ver_2"})
	if !apperr.Is(err, apperr.KindIndexingFailure) {
		t.Fatalf("want IndexingFailure, got %v", err)
	}

	seg, gen := r.Current()
	if seg.ID != good.ID || gen != 1 {
		t.Errorf("old index replaced: seg=%s gen=%d", seg.ID, gen)
	}
	hits, err := r.Retrieve("committed", nil, 10)
	if err != nil || len(hits) != 1 {
		t.Errorf("old index not queryable: %+v, %v", hits, err)
	}
}

func TestHealthCheckRejections(t *testing.T) {
	tests := []struct {
		name    string
		docs    []Doc
		corpus  []string
		wantErr bool
	}{
		{"ok", []Doc{doc("pas_a", "ver_1", "note_1", "x")}, []string{"ver_1"}, false},
		{"uncovered version", []Doc{doc("pas_a", "ver_1", "note_1", "x")}, []string{"ver_1", "ver_2"}, true},
		{"orphan passage", []Doc{doc("pas_a", "ver_9", "note_1", "x")}, []string{"ver_1"}, true},
		{"duplicate passage id", []Doc{
			doc("pas_a", "ver_1", "note_1", "x"),
			doc("pas_a", "ver_1", "note_1", "y"),
		}, []string{"ver_1"}, true},
		{"empty corpus empty segment", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := build(t, tt.docs...)
			err := healthCheck(seg, tt.corpus)
			if (err != nil) != tt.wantErr {
				t.Errorf("healthCheck = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCheckSchemaMismatch(t *testing.T) {
	seg := build(t, doc("pas_a", "ver_1", "note_1", "x"))
	seg.SchemaVersion = SchemaVersion + 1
	if err := healthCheck(seg, []string{"ver_1"}); !apperr.Is(err, apperr.KindIndexingFailure) {
		t.Errorf("want IndexingFailure, got %v", err)
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	seg := build(t, doc("pas_a", "ver_1", "note_1", "concurrent body"))
	if err := r.Commit(seg, []string{"ver_1"}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := r.Retrieve("concurrent", nil, 5); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	next := build(t, doc("pas_b", "ver_2", "note_1", "concurrent body too"))
	if err := r.Commit(next, []string{"ver_2"}); err != nil {
		t.Error(err)
	}
	wg.Wait()
}
