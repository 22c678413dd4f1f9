// Package token implements the deterministic text pipeline anchors and
// passages are defined over: NFC+LF normalization, UAX-29 word
// segmentation with markdown-aware overrides, and token-span fingerprints.
package token

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Version identifies the tokenization rule set. It is stored with every
// anchor; changing the rules below requires bumping it, which forces
// re-anchoring by structure path + fingerprint search.
const Version = "uax29/1"

// Normalize canonicalizes markdown content:
//
//  1. Unicode NFC.
//  2. All line endings become LF.
//  3. Outside code spans, each maximal whitespace run collapses to a
//     single LF if it contained a line break, otherwise a single space.
//     Fenced blocks and inline backtick spans are preserved byte-for-byte.
//
// Normalize is referentially transparent: two inputs differing only in
// whitespace runs outside code spans normalize to identical output.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	regions := codeRegions(s)
	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		if r := regionAt(regions, i); r != nil {
			b.WriteString(s[r.start:r.end])
			i = r.end
			continue
		}
		c := s[i]
		if isSpaceByte(c) {
			j := i
			sawNewline := false
			for j < len(s) && isSpaceByte(s[j]) && regionAt(regions, j) == nil {
				if s[j] == '\n' {
					sawNewline = true
				}
				j++
			}
			if sawNewline {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}

	return b.String()
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f'
}

// span is a half-open byte range [start, end).
type span struct{ start, end int }

func regionAt(regions []span, off int) *span {
	for i := range regions {
		if off >= regions[i].start && off < regions[i].end {
			return &regions[i]
		}
		if regions[i].start > off {
			break
		}
	}
	return nil
}

// codeRegions finds fenced code blocks and inline backtick spans.
// Regions include their delimiters. Indented code blocks are not
// recognized; the chunker treats them as prose.
func codeRegions(s string) []span {
	var regions []span

	lines := splitLinesWithOffsets(s)
	inFence := false
	var fenceMarker string
	var fenceStart int

	for _, ln := range lines {
		trimmed := strings.TrimLeft(ln.text, " ")
		if inFence {
			if strings.HasPrefix(trimmed, fenceMarker) {
				regions = append(regions, span{fenceStart, ln.end})
				inFence = false
			}
			continue
		}
		if marker := fenceOpen(trimmed); marker != "" {
			inFence = true
			fenceMarker = marker
			fenceStart = ln.start
			continue
		}
		// Inline backtick spans within this line.
		regions = append(regions, inlineCodeSpans(s, ln.start, ln.end)...)
	}
	if inFence {
		// Unterminated fence runs to end of input.
		regions = append(regions, span{fenceStart, len(s)})
	}

	return regions
}

func fenceOpen(trimmed string) string {
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, m) {
			return m
		}
	}
	return ""
}

// inlineCodeSpans finds `code` spans between start and end. A run of N
// backticks opens a span closed by the next run of exactly N backticks;
// an unmatched run is literal text.
func inlineCodeSpans(s string, start, end int) []span {
	var spans []span
	i := start
	for i < end {
		if s[i] != '`' {
			i++
			continue
		}
		n := 0
		for i+n < end && s[i+n] == '`' {
			n++
		}
		close := findBacktickRun(s, i+n, end, n)
		if close < 0 {
			i += n
			continue
		}
		spans = append(spans, span{i, close + n})
		i = close + n
	}
	return spans
}

func findBacktickRun(s string, from, end, n int) int {
	for i := from; i < end; i++ {
		if s[i] != '`' {
			continue
		}
		run := 0
		for i+run < end && s[i+run] == '`' {
			run++
		}
		if run == n {
			return i
		}
		i += run - 1
	}
	return -1
}

type line struct {
	text       string
	start, end int // end includes the trailing newline if present
}

func splitLinesWithOffsets(s string) []line {
	var lines []line
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, line{text: s[start:i], start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, line{text: s[start:], start: start, end: len(s)})
	}
	return lines
}
