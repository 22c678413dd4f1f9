// Package chunk splits normalized version content into overlapping,
// token-bounded passages aligned to structure boundaries. The mapping
// from (content, config) to passages is total and deterministic;
// passage ids are assigned later and are surrogate by design.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/structure"
	"github.com/inkwell-labs/inkwell/internal/token"
)

// MaxSnippetChars bounds passage snippets.
const MaxSnippetChars = 200

// Config controls passage sizing. Zero values are invalid; use Default.
type Config struct {
	MaxTokensPerPassage         int
	OverlapTokens               int
	MaxNoteTokens               int
	MinPassageTokens            int
	PreserveStructureBoundaries bool
}

// Default returns the standard chunking configuration.
func Default() Config {
	return Config{
		MaxTokensPerPassage:         180,
		OverlapTokens:               90,
		MaxNoteTokens:               20_000,
		MinPassageTokens:            10,
		PreserveStructureBoundaries: true,
	}
}

// Passage is one token-bounded slice of a version. TokenOffset and
// TokenLength address the version's tokenization; Content is the byte
// slice of the normalized text covered by those tokens.
type Passage struct {
	StructurePath string
	TokenOffset   int
	TokenLength   int
	Content       string
	Snippet       string
	ContentHash   string
}

// Split chunks normalized content into passages. Returns ContentTooLarge
// (a validation error) when the token count exceeds cfg.MaxNoteTokens.
// The final sub-minimum tail is absorbed into the preceding passage
// rather than dropped.
func Split(normalized string, cfg Config) ([]Passage, error) {
	tz := token.Tokenize(normalized)
	total := tz.Total()
	if total > cfg.MaxNoteTokens {
		return nil, apperr.Newf(apperr.KindValidation,
			"ContentTooLarge: %d tokens exceeds limit %d", total, cfg.MaxNoteTokens)
	}
	if total == 0 {
		return nil, nil
	}

	var ext *structure.Extractor
	if cfg.PreserveStructureBoundaries {
		ext = structure.New(normalized)
	}

	stride := cfg.MaxTokensPerPassage - cfg.OverlapTokens
	if stride < 1 {
		stride = 1
	}

	var passages []Passage
	for start := 0; start < total; start += stride {
		end := start + cfg.MaxTokensPerPassage
		if end > total {
			end = total
		}

		if start > 0 && end-start < cfg.MinPassageTokens {
			// Absorb the tail into the previous passage.
			prev := &passages[len(passages)-1]
			prev.TokenLength = total - prev.TokenOffset
			fill(prev, tz, ext)
			break
		}

		p := Passage{TokenOffset: start, TokenLength: end - start}
		fill(&p, tz, ext)
		passages = append(passages, p)

		if end == total {
			break
		}
	}

	return passages, nil
}

// fill derives the content-dependent fields from the token span.
func fill(p *Passage, tz token.Tokenization, ext *structure.Extractor) {
	start, end, _ := tz.ByteRange(p.TokenOffset, p.TokenLength)
	p.Content = tz.Text[start:end]
	p.Snippet = Snippet(p.Content)
	p.ContentHash = token.HashContent(p.Content)
	if ext != nil {
		p.StructurePath = ext.PathAt(start)
	} else {
		p.StructurePath = "/"
	}
}

// Snippet truncates content at a word boundary to MaxSnippetChars,
// appending an ellipsis when truncated.
func Snippet(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if utf8.RuneCountInString(content) <= MaxSnippetChars {
		return content
	}
	runes := []rune(content)
	cut := MaxSnippetChars
	for cut > 0 && !isBoundary(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = MaxSnippetChars // no boundary available, hard cut
	}
	return strings.TrimRight(string(runes[:cut]), " ") + "…"
}

func isBoundary(r rune) bool {
	return r == ' ' || r == '\t'
}
