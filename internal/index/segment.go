// Package index implements the segmented passage index. A segment is
// built offstage from a corpus of passages, gated by a health check, and
// installed with an atomic swap; readers only ever see committed
// segments.
package index

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/ids"
	"github.com/inkwell-labs/inkwell/internal/token"
)

// SchemaVersion gates segment compatibility. Bump when the posting
// layout or scoring inputs change.
const SchemaVersion = 1

// BM25 parameters and per-field boosts.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	boostContent   = 1.0
	boostSnippet   = 0.5
	boostStructure = 2.0
)

// State tracks the segment lifecycle. Ready segments are immutable.
type State string

const (
	StateBuilding State = "building"
	StateReady    State = "ready"
)

// Doc is one indexable passage with the identity and anchor data the
// query engine needs back out.
type Doc struct {
	PassageID     string
	VersionID     string
	NoteID        string
	CollectionIDs []string
	StructurePath string
	TokenOffset   int
	TokenLength   int
	Content       string
	Snippet       string
	Anchor        anchor.Anchor
}

// Hit is a scored retrieval result.
type Hit struct {
	PassageID     string
	VersionID     string
	NoteID        string
	Score         float64
	Snippet       string
	Content       string
	StructurePath string
	TokenOffset   int
	TokenLength   int
	CollectionIDs []string
	Anchor        anchor.Anchor
}

type posting struct {
	doc int32
	tf  int32
}

type field struct {
	boost    float64
	postings map[string][]posting
	docLen   []int
	avgLen   float64
}

// Segment is an immutable committed view over one corpus.
type Segment struct {
	ID            string
	CorpusID      string
	SchemaVersion int
	BuiltAt       time.Time

	state  State
	docs   []Doc
	fields []field
}

// Build constructs a segment from the corpus passages. Per-doc term
// counting runs in parallel; assembly is sequential in doc order so the
// resulting postings are deterministic.
func Build(ctx context.Context, corpusID string, docs []Doc) (*Segment, error) {
	seg := &Segment{
		ID:            ids.New(ids.Index),
		CorpusID:      corpusID,
		SchemaVersion: SchemaVersion,
		state:         StateBuilding,
		docs:          docs,
	}

	fieldTexts := []func(Doc) string{
		func(d Doc) string { return d.Content },
		func(d Doc) string { return d.Snippet },
		func(d Doc) string { return d.StructurePath },
	}
	boosts := []float64{boostContent, boostSnippet, boostStructure}

	// counts[f][d] is the term frequency map of doc d in field f.
	counts := make([][]map[string]int, len(fieldTexts))
	for f := range counts {
		counts[f] = make([]map[string]int, len(docs))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for d := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for f, text := range fieldTexts {
				counts[f][d] = termCounts(text(docs[d]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.KindIndexingFailure, "BuildStageFailed", err)
	}

	seg.fields = make([]field, len(fieldTexts))
	for f := range seg.fields {
		fl := field{
			boost:    boosts[f],
			postings: make(map[string][]posting),
			docLen:   make([]int, len(docs)),
		}
		totalLen := 0
		for d := range docs {
			terms := counts[f][d]
			for term, tf := range terms {
				fl.postings[term] = append(fl.postings[term], posting{doc: int32(d), tf: int32(tf)})
			}
			for _, tf := range terms {
				fl.docLen[d] += tf
			}
			totalLen += fl.docLen[d]
		}
		if len(docs) > 0 {
			fl.avgLen = float64(totalLen) / float64(len(docs))
		}
		seg.fields[f] = fl
	}

	seg.state = StateReady
	seg.BuiltAt = time.Now().UTC()
	return seg, nil
}

// termCounts tokenizes text and counts lower-cased terms.
func termCounts(text string) map[string]int {
	tz := token.Tokenize(text)
	if len(tz.Tokens) == 0 {
		return nil
	}
	counts := make(map[string]int, len(tz.Tokens))
	for _, t := range tz.Tokens {
		counts[strings.ToLower(t)]++
	}
	return counts
}

// State reports the lifecycle state.
func (s *Segment) State() State { return s.state }

// Docs returns the number of indexed passages.
func (s *Segment) Docs() int { return len(s.docs) }

// Versions returns the distinct version ids the segment covers.
func (s *Segment) Versions() []string {
	seen := make(map[string]bool, len(s.docs))
	var out []string
	for _, d := range s.docs {
		if !seen[d.VersionID] {
			seen[d.VersionID] = true
			out = append(out, d.VersionID)
		}
	}
	sort.Strings(out)
	return out
}

// Retrieve scores the query against the segment and returns up to topK
// hits ordered by (-score, version id, passage id). Scoring is BM25 per
// field with boosts; identical segment and query always produce the
// identical ranking.
func (s *Segment) Retrieve(query string, collections []string, topK int) []Hit {
	if s.state != StateReady || topK < 1 {
		return nil
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}

	allowed := collectionSet(collections)
	n := float64(len(s.docs))
	scores := make(map[int32]float64)

	for _, term := range terms {
		for _, fl := range s.fields {
			ps := fl.postings[term]
			if len(ps) == 0 {
				continue
			}
			df := float64(len(ps))
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			for _, p := range ps {
				dl := float64(fl.docLen[p.doc])
				tf := float64(p.tf)
				norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*dl/fl.avgLen))
				scores[p.doc] += fl.boost * idf * norm
			}
		}
	}

	hits := make([]Hit, 0, len(scores))
	for d, score := range scores {
		doc := s.docs[d]
		if allowed != nil && !inScope(doc.CollectionIDs, allowed) {
			continue
		}
		hits = append(hits, Hit{
			PassageID:     doc.PassageID,
			VersionID:     doc.VersionID,
			NoteID:        doc.NoteID,
			Score:         score,
			Snippet:       doc.Snippet,
			Content:       doc.Content,
			StructurePath: doc.StructurePath,
			TokenOffset:   doc.TokenOffset,
			TokenLength:   doc.TokenLength,
			CollectionIDs: doc.CollectionIDs,
			Anchor:        doc.Anchor,
		})
	}

	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SortHits applies the canonical deterministic ordering.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].VersionID != hits[j].VersionID {
			return hits[i].VersionID < hits[j].VersionID
		}
		return hits[i].PassageID < hits[j].PassageID
	})
}

func queryTerms(query string) []string {
	tz := token.Tokenize(token.Normalize(query))
	seen := make(map[string]bool, len(tz.Tokens))
	var terms []string
	for _, t := range tz.Tokens {
		lower := strings.ToLower(t)
		if !seen[lower] {
			seen[lower] = true
			terms = append(terms, lower)
		}
	}
	return terms
}

func collectionSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func inScope(docCollections []string, allowed map[string]bool) bool {
	for _, c := range docCollections {
		if allowed[c] {
			return true
		}
	}
	return false
}
