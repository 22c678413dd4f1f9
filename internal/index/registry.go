package index

import (
	"sync"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
)

// Registry holds the committed segment pointer. Commit takes the write
// lock for the pointer swap only; queries take the read lock and never
// block each other. Queries in flight against a replaced segment finish
// against it unharmed since segments are immutable.
type Registry struct {
	mu         sync.RWMutex
	current    *Segment
	generation uint64
	log        *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

// Commit health-gates the candidate segment against the corpus version
// set and installs it. On gate failure the previous segment stays
// committed and queryable.
func (r *Registry) Commit(seg *Segment, corpusVersions []string) error {
	if err := healthCheck(seg, corpusVersions); err != nil {
		r.log.Warn("index commit rejected",
			zap.String("segment_id", seg.ID),
			zap.String("corpus_id", seg.CorpusID),
			zap.Error(err))
		return err
	}

	r.mu.Lock()
	r.current = seg
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	r.log.Info("index committed",
		zap.String("segment_id", seg.ID),
		zap.String("corpus_id", seg.CorpusID),
		zap.Uint64("generation", gen),
		zap.Int("docs", seg.Docs()))
	return nil
}

// Current returns the committed segment and its generation. The segment
// is nil before the first commit.
func (r *Registry) Current() (*Segment, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.generation
}

// Retrieve queries the committed segment. Before the first commit it
// fails with IndexNotReady.
func (r *Registry) Retrieve(query string, collections []string, topK int) ([]Hit, error) {
	seg, _ := r.Current()
	if seg == nil {
		return nil, apperr.New(apperr.KindIndexNotReady, "no committed index")
	}
	return seg.Retrieve(query, collections, topK), nil
}

// healthCheck validates a candidate segment before it may be committed:
// schema version match, every corpus version indexed, no orphan
// passages, no duplicate passage ids.
func healthCheck(seg *Segment, corpusVersions []string) error {
	if seg == nil {
		return apperr.New(apperr.KindIndexingFailure, "HealthCheckFailed: nil segment")
	}
	if seg.state != StateReady {
		return apperr.Newf(apperr.KindIndexingFailure,
			"HealthCheckFailed: segment state %q", seg.state)
	}
	if seg.SchemaVersion != SchemaVersion {
		return apperr.Newf(apperr.KindIndexingFailure,
			"HealthCheckFailed: segment schema %d, want %d", seg.SchemaVersion, SchemaVersion)
	}

	corpus := make(map[string]bool, len(corpusVersions))
	for _, v := range corpusVersions {
		corpus[v] = false
	}
	seen := make(map[string]bool, len(seg.docs))
	for _, d := range seg.docs {
		if seen[d.PassageID] {
			return apperr.Newf(apperr.KindIndexingFailure,
				"HealthCheckFailed: duplicate passage id %s", d.PassageID)
		}
		seen[d.PassageID] = true
		if _, ok := corpus[d.VersionID]; !ok {
			return apperr.Newf(apperr.KindIndexingFailure,
				"HealthCheckFailed: orphan passage %s for version %s", d.PassageID, d.VersionID)
		}
		corpus[d.VersionID] = true
	}
	for v, covered := range corpus {
		if !covered {
			return apperr.Newf(apperr.KindIndexingFailure,
				"HealthCheckFailed: version %s has no passages", v)
		}
	}
	return nil
}
