// Package anchor creates and resolves citation anchors. An anchor pins a
// token span of a version by fingerprint rather than raw offset, so it
// survives formatting edits and can be re-attached after content moves.
package anchor

import (
	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/structure"
	"github.com/inkwell-labs/inkwell/internal/token"
)

// Unresolved reasons reported by Resolve.
const (
	ReasonVersionMismatch = "tokenization_version_mismatch"
	ReasonNotFound        = "fingerprint_not_found"
	ReasonAmbiguous       = "ambiguous_match"
)

// Anchor addresses a token span of one version. The fingerprint is the
// source of truth; the offset is a hint that speeds up resolution and
// detects drift.
type Anchor struct {
	StructurePath       string     `json:"structure_path"`
	TokenOffset         int        `json:"token_offset"`
	TokenLength         int        `json:"token_length"`
	Fingerprint         string     `json:"fingerprint"`
	FingerprintAlgo     token.Algo `json:"fingerprint_algo"`
	TokenizationVersion string     `json:"tokenization_version"`
}

// Drift describes what changed between anchor creation and resolution.
type Drift struct {
	ContentChanged      bool `json:"content_changed"`
	StructureChanged    bool `json:"structure_changed"`
	FingerprintMismatch bool `json:"fingerprint_mismatch"`
	SuggestedReanchor   bool `json:"suggested_reanchor"`
}

// Resolution is the outcome of resolving an anchor against a candidate
// version's content. When Resolved is false, Reason names why and
// NearestOffset points at the most similar surviving span (-1 when no
// diagnostic could be computed).
type Resolution struct {
	Resolved      bool   `json:"resolved"`
	TokenOffset   int    `json:"token_offset"`
	TokenLength   int    `json:"token_length"`
	StructurePath string `json:"structure_path"`
	Reanchored    bool   `json:"reanchored"`
	Reason        string `json:"reason,omitempty"`
	NearestOffset int    `json:"nearest_offset"`
	Drift         Drift  `json:"drift"`
}

// Engine creates and resolves anchors with a fixed fingerprint algorithm.
// Anchors created with other algorithms still resolve; the stored algo
// wins.
type Engine struct {
	algo token.Algo
}

func NewEngine(algo token.Algo) *Engine {
	if algo == "" {
		algo = token.AlgoSHA256
	}
	return &Engine{algo: algo}
}

// Create anchors the token span [offset, offset+length) of normalized
// content. The structure path is derived from the span's first token.
// Returns a validation error when the span is out of bounds.
func (e *Engine) Create(content string, offset, length int) (Anchor, error) {
	tz := token.Tokenize(content)
	span, ok := tz.Span(offset, length)
	if !ok {
		return Anchor{}, apperr.Newf(apperr.KindValidation,
			"InvalidTokenSpan: [%d, %d) outside %d tokens", offset, offset+length, tz.Total())
	}
	ext := structure.New(content)
	return Anchor{
		StructurePath:       ext.PathAt(tz.Offsets[offset]),
		TokenOffset:         offset,
		TokenLength:         length,
		Fingerprint:         token.Fingerprint(span, e.algo),
		FingerprintAlgo:     e.algo,
		TokenizationVersion: token.Version,
	}, nil
}

// Resolve locates the anchor's span in candidate content, in order:
//
//  1. tokenization version gate: anchors from an incompatible tokenizer
//     never resolve;
//  2. the stored span, when its fingerprint still matches;
//  3. a fingerprint scan over same-length windows inside the anchor's
//     structure subtree (the whole document when the subtree is gone);
//     exactly one hit re-anchors, several are ambiguous.
//
// original is the content the anchor was created against; it feeds the
// NearestOffset diagnostic and may be empty when unavailable.
func (e *Engine) Resolve(a Anchor, original, candidate string) Resolution {
	res := Resolution{
		TokenOffset:   a.TokenOffset,
		TokenLength:   a.TokenLength,
		StructurePath: a.StructurePath,
		NearestOffset: -1,
	}

	if a.TokenizationVersion != token.Version {
		res.Reason = ReasonVersionMismatch
		res.Drift = Drift{ContentChanged: true, FingerprintMismatch: true}
		return res
	}

	tz := token.Tokenize(candidate)
	ext := structure.New(candidate)

	if span, ok := tz.Span(a.TokenOffset, a.TokenLength); ok {
		if token.Fingerprint(span, a.FingerprintAlgo) == a.Fingerprint {
			res.Resolved = true
			path := ext.PathAt(tz.Offsets[a.TokenOffset])
			res.StructurePath = path
			res.Drift.StructureChanged = path != a.StructurePath
			return res
		}
	}
	res.Drift.FingerprintMismatch = true
	res.Drift.ContentChanged = true

	inSubtree := func(start int) bool {
		return structure.HasPrefix(ext.PathAt(tz.Offsets[start]), a.StructurePath)
	}
	subtreeExists := false
	for _, p := range ext.Paths() {
		if structure.HasPrefix(p, a.StructurePath) {
			subtreeExists = true
			break
		}
	}
	if !subtreeExists {
		res.Drift.StructureChanged = true
		inSubtree = func(int) bool { return true }
	}

	matches := e.scan(a, tz, inSubtree)
	switch len(matches) {
	case 1:
		res.Resolved = true
		res.Reanchored = true
		res.TokenOffset = matches[0]
		res.StructurePath = ext.PathAt(tz.Offsets[matches[0]])
		res.Drift.SuggestedReanchor = true
		if res.StructurePath != a.StructurePath {
			res.Drift.StructureChanged = true
		}
		return res
	case 0:
		res.Reason = ReasonNotFound
	default:
		res.Reason = ReasonAmbiguous
	}

	res.NearestOffset = nearestOffset(a, original, tz)
	return res
}

// Extract returns the anchored text from the content the anchor was
// created against.
func (e *Engine) Extract(a Anchor, original string) (string, error) {
	tz := token.Tokenize(original)
	start, end, ok := tz.ByteRange(a.TokenOffset, a.TokenLength)
	if !ok {
		return "", apperr.Newf(apperr.KindValidation,
			"InvalidTokenSpan: [%d, %d) outside %d tokens",
			a.TokenOffset, a.TokenOffset+a.TokenLength, tz.Total())
	}
	return tz.Text[start:end], nil
}

// scan returns every window start whose fingerprint matches the anchor,
// restricted to starts accepted by inSubtree.
func (e *Engine) scan(a Anchor, tz token.Tokenization, inSubtree func(int) bool) []int {
	var matches []int
	for start := 0; start+a.TokenLength <= tz.Total(); start++ {
		if !inSubtree(start) {
			continue
		}
		span, _ := tz.Span(start, a.TokenLength)
		if token.Fingerprint(span, a.FingerprintAlgo) == a.Fingerprint {
			matches = append(matches, start)
		}
	}
	return matches
}

// nearestOffset finds the window of candidate tokens with the smallest
// edit distance to the originally anchored tokens. Ties resolve to the
// lowest offset. Returns -1 when the original span is unavailable.
func nearestOffset(a Anchor, original string, cur token.Tokenization) int {
	if original == "" || cur.Total() == 0 {
		return -1
	}
	ref, ok := token.Tokenize(original).Span(a.TokenOffset, a.TokenLength)
	if !ok {
		return -1
	}

	width := a.TokenLength
	if width > cur.Total() {
		width = cur.Total()
	}
	best, bestDist := -1, -1
	for start := 0; start+width <= cur.Total(); start++ {
		window, _ := cur.Span(start, width)
		d := levenshtein(ref, window)
		if best < 0 || d < bestDist {
			best, bestDist = start, d
		}
	}
	return best
}

// levenshtein computes edit distance over token slices with two rolling
// rows.
func levenshtein(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
