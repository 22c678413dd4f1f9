// Package query runs the search pipeline: scope resolution, retrieval,
// deterministic rerank and dedup, pagination, and extractive answer
// composition with anchored citations.
package query

import (
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/anchor"
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/ids"
	"github.com/inkwell-labs/inkwell/internal/index"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/token"
)

const (
	maxQueryChars    = 500
	defaultPageSize  = 10
	maxAnswerSources = 10
	maxCitations     = 3
)

// No-answer reasons.
const (
	ReasonEmptyScope           = "empty_scope"
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonUnresolvedAnchors    = "unresolved_anchors"
)

// VersionReader loads immutable version bodies for citation resolution.
type VersionReader interface {
	GetVersion(id string) (store.Version, error)
}

// ScopeResolver maps collection names or ids to known collection ids,
// silently dropping unknown entries.
type ScopeResolver interface {
	ResolveCollections(refs []string) ([]string, error)
}

// EventSink receives pipeline events. May be nil.
type EventSink interface {
	AppendEvent(event.Envelope) error
}

// Request is one search call.
type Request struct {
	Text        string
	Collections []string
	Page        int
	PageSize    int
}

// Result is one ranked, deduplicated passage.
type Result struct {
	PassageID     string  `json:"passage_id"`
	NoteID        string  `json:"note_id"`
	VersionID     string  `json:"version_id"`
	Score         float64 `json:"score"`
	Snippet       string  `json:"snippet"`
	StructurePath string  `json:"structure_path"`
}

// Citation anchors one answer fragment to a version span.
type Citation struct {
	ID         string        `json:"id"`
	VersionID  string        `json:"version_id"`
	Anchor     anchor.Anchor `json:"anchor"`
	Snippet    string        `json:"snippet"`
	Confidence float64       `json:"confidence"`
}

// Coverage reports how much of the considered evidence got cited.
type Coverage struct {
	Claims int `json:"claims"`
	Cited  int `json:"cited"`
}

// Answer is the extractive composition. Text is snippets joined by
// single spaces, nothing generated.
type Answer struct {
	ID         string     `json:"id"`
	QueryID    string     `json:"query_id"`
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Coverage   Coverage   `json:"coverage"`
	ComposedAt time.Time  `json:"composed_at"`
}

// Response is the full search result.
type Response struct {
	QueryID        string   `json:"query_id"`
	Results        []Result `json:"results"`
	Answer         *Answer  `json:"answer,omitempty"`
	NoAnswerReason string   `json:"no_answer_reason,omitempty"`
	Page           int      `json:"page"`
	PageSize       int      `json:"page_size"`
	TotalCount     int      `json:"total_count"`
	HasMore        bool     `json:"has_more"`
}

// Engine wires the registry, store and anchor engine into the search
// pipeline and tracks latency for SLO backpressure.
type Engine struct {
	cfg      Config
	registry *index.Registry
	versions VersionReader
	scopes   ScopeResolver
	anchors  *anchor.Engine
	events   EventSink
	log      *zap.Logger

	slo *sloTracker
}

// Config is the query tuning subset the engine needs.
type Config struct {
	TopKRetrieve       int
	TopKRerank         int
	TopKRerankDegraded int
	MaxPageSize        int
	SLODegrade         time.Duration
	SLORecover         time.Duration
}

func NewEngine(cfg Config, registry *index.Registry, versions VersionReader,
	scopes ScopeResolver, anchors *anchor.Engine, events EventSink, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		versions: versions,
		scopes:   scopes,
		anchors:  anchors,
		events:   events,
		log:      log,
		slo:      newSLOTracker(cfg.SLODegrade, cfg.SLORecover),
	}
}

// Search executes the pipeline. Validation failures, IndexNotReady and
// storage errors propagate; an empty corpus match is a normal response.
func (e *Engine) Search(req Request) (Response, error) {
	started := time.Now()
	queryID := ids.New(ids.Query)

	if err := validate(req); err != nil {
		return Response{}, err
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}

	e.emit(event.TypeQuerySubmitted, map[string]any{
		"query_id": queryID, "text_chars": utf8.RuneCountInString(req.Text),
	})

	resp := Response{QueryID: queryID, Page: req.Page, PageSize: pageSize}

	// Scope: unknown collections are dropped; an entirely unknown scope
	// short-circuits to empty.
	var scope []string
	if len(req.Collections) > 0 {
		resolved, err := e.scopes.ResolveCollections(req.Collections)
		if err != nil {
			return Response{}, err
		}
		if len(resolved) == 0 {
			resp.NoAnswerReason = ReasonEmptyScope
			e.observe(started)
			return resp, nil
		}
		scope = resolved
	}

	hits, err := e.registry.Retrieve(req.Text, scope, e.cfg.TopKRetrieve)
	if err != nil {
		return Response{}, err
	}

	// Rerank: hits arrive in canonical order; keep the current rerank
	// window (shrunk under SLO pressure).
	rerank := e.cfg.TopKRerank
	if e.slo.degraded() {
		rerank = e.cfg.TopKRerankDegraded
	}
	if len(hits) > rerank {
		hits = hits[:rerank]
	}

	deduped := dedupe(hits)
	resp.TotalCount = len(deduped)

	start := req.Page * pageSize
	end := start + pageSize
	if start > len(deduped) {
		start = len(deduped)
	}
	if end > len(deduped) {
		end = len(deduped)
	}
	resp.HasMore = end < len(deduped)
	for _, h := range deduped[start:end] {
		resp.Results = append(resp.Results, Result{
			PassageID:     h.PassageID,
			NoteID:        h.NoteID,
			VersionID:     h.VersionID,
			Score:         h.Score,
			Snippet:       h.Snippet,
			StructurePath: h.StructurePath,
		})
	}

	answer, reason := e.compose(queryID, deduped)
	resp.Answer = answer
	if answer == nil && resp.NoAnswerReason == "" {
		resp.NoAnswerReason = reason
	}

	e.observe(started)
	return resp, nil
}

func validate(req Request) error {
	n := utf8.RuneCountInString(strings.TrimSpace(req.Text))
	if n < 1 || n > maxQueryChars {
		return apperr.Validation("query text must be 1..500 characters", "q")
	}
	if req.Page < 0 {
		return apperr.Validation("page must be non-negative", "page")
	}
	if req.PageSize < 0 {
		return apperr.Validation("page_size must be positive", "page_size")
	}
	return nil
}

// dedupe keeps the best passage per (note_id, version_id) and restores
// canonical order.
func dedupe(hits []index.Hit) []index.Hit {
	type key struct{ note, version string }
	best := make(map[key]index.Hit, len(hits))
	for _, h := range hits {
		k := key{h.NoteID, h.VersionID}
		if prev, ok := best[k]; !ok || h.Score > prev.Score ||
			(h.Score == prev.Score && h.PassageID < prev.PassageID) {
			best[k] = h
		}
	}
	out := make([]index.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	index.SortHits(out)
	return out
}

// compose builds the extractive answer from the top deduplicated hits.
// Returns a nil answer and the no-answer reason when nothing can be
// cited.
func (e *Engine) compose(queryID string, deduped []index.Hit) (*Answer, string) {
	if len(deduped) == 0 {
		return nil, ReasonInsufficientEvidence
	}

	sources := deduped
	if len(sources) > maxAnswerSources {
		sources = sources[:maxAnswerSources]
	}
	topScore := sources[0].Score

	var citations []Citation
	var snippets []string
	examined := 0
	sawUnresolved := false

	for _, h := range sources {
		if len(citations) == maxCitations {
			break
		}
		examined++

		v, err := e.versions.GetVersion(h.VersionID)
		if err != nil {
			sawUnresolved = true
			continue
		}
		res := e.anchors.Resolve(h.Anchor, "", token.Normalize(v.BodyMD))
		e.emit(event.TypeCitationResolved, map[string]any{
			"query_id": queryID, "version_id": h.VersionID,
			"passage_id": h.PassageID, "resolved": res.Resolved,
		})
		if !res.Resolved {
			sawUnresolved = true
			e.emit(event.TypeAnchorDriftDetected, map[string]any{
				"version_id": h.VersionID, "passage_id": h.PassageID,
				"reason": res.Reason,
			})
			continue
		}

		confidence := 1.0
		if topScore > 0 {
			confidence = h.Score / topScore
		}
		citations = append(citations, Citation{
			ID:         ids.New(ids.Citation),
			VersionID:  h.VersionID,
			Anchor:     h.Anchor,
			Snippet:    h.Snippet,
			Confidence: confidence,
		})
		snippets = append(snippets, h.Snippet)
	}

	if len(citations) == 0 {
		if sawUnresolved {
			return nil, ReasonUnresolvedAnchors
		}
		return nil, ReasonInsufficientEvidence
	}

	a := &Answer{
		ID:         ids.New(ids.Answer),
		QueryID:    queryID,
		Text:       strings.Join(snippets, " "),
		Citations:  citations,
		Coverage:   Coverage{Claims: examined, Cited: len(citations)},
		ComposedAt: time.Now().UTC(),
	}
	e.emit(event.TypeAnswerComposed, map[string]any{
		"query_id": queryID, "answer_id": a.ID,
		"claims": a.Coverage.Claims, "cited": a.Coverage.Cited,
	})
	return a, ""
}

func (e *Engine) observe(started time.Time) {
	degradedNow, changed := e.slo.record(time.Since(started))
	if changed {
		if degradedNow {
			e.log.Warn("search latency above SLO, shrinking rerank window")
		} else {
			e.log.Info("search latency recovered, restoring rerank window")
		}
	}
}

func (e *Engine) emit(eventType string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendEvent(event.New(eventType, payload)); err != nil {
		e.log.Warn("event append failed", zap.String("type", eventType), zap.Error(err))
	}
}
