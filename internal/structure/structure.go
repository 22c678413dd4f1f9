// Package structure derives heading-trail structure paths for markdown
// offsets. A structure path is the slash-joined trail of normalized
// heading slugs enclosing a position, e.g. "/design/storage-layer".
package structure

import (
	"strings"
	"unicode"
)

// MaxSlugLen caps each path segment.
const MaxSlugLen = 50

// Extractor answers structure-path queries for one document. Build it
// once per document; PathAt is then O(log n) over recorded snapshots.
type Extractor struct {
	snapshots []snapshot
}

type snapshot struct {
	offset int // byte offset where this heading line begins
	path   string
}

// New walks the markdown once and records a heading-stack snapshot at
// every heading. Headings inside fenced code blocks are ignored.
func New(markdown string) *Extractor {
	e := &Extractor{}
	stack := make([]string, 0, 6) // slug per heading level, 1-based

	inFence := false
	var fenceMarker string

	offset := 0
	for offset <= len(markdown) {
		end := strings.IndexByte(markdown[offset:], '\n')
		var lineEnd int
		if end < 0 {
			lineEnd = len(markdown)
		} else {
			lineEnd = offset + end
		}
		line := markdown[offset:lineEnd]
		trimmed := strings.TrimLeft(line, " ")

		if inFence {
			if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
		} else if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = true
			fenceMarker = trimmed[:3]
		} else if level, text := headingLine(trimmed); level > 0 {
			if level <= len(stack) {
				stack = stack[:level-1]
			}
			for len(stack) < level-1 {
				stack = append(stack, "") // skipped levels leave empty segments out
			}
			stack = append(stack, Slug(text))
			e.snapshots = append(e.snapshots, snapshot{
				offset: offset,
				path:   joinPath(stack),
			})
		}

		if end < 0 {
			break
		}
		offset = lineEnd + 1
	}

	return e
}

// PathAt returns the structure path governing a byte offset: the last
// heading snapshot beginning at or before the offset. Before any heading
// (or in an empty document) the path is "/".
func (e *Extractor) PathAt(offset int) string {
	path := "/"
	for _, s := range e.snapshots {
		if s.offset > offset {
			break
		}
		path = s.path
	}
	return path
}

// Paths returns every distinct structure path in document order,
// starting with "/".
func (e *Extractor) Paths() []string {
	out := []string{"/"}
	seen := map[string]bool{"/": true}
	for _, s := range e.snapshots {
		if !seen[s.path] {
			seen[s.path] = true
			out = append(out, s.path)
		}
	}
	return out
}

// headingLine parses an ATX heading, returning its level (1-6) and text,
// or 0 if the line is not a heading.
func headingLine(trimmed string) (int, string) {
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	if level == len(trimmed) {
		return level, ""
	}
	if trimmed[level] != ' ' && trimmed[level] != '\t' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// Slug normalizes heading text into a path segment: lower-cased,
// whitespace runs and hyphens become '-', other non-alphanumerics
// stripped, truncated to MaxSlugLen.
func Slug(heading string) string {
	var b strings.Builder
	b.Grow(len(heading))
	pendingDash := false
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			pendingDash = true
		}
	}
	s := b.String()
	if len(s) > MaxSlugLen {
		s = s[:MaxSlugLen]
	}
	return s
}

func joinPath(stack []string) string {
	var parts []string
	for _, s := range stack {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// HasPrefix reports whether path is within the subtree rooted at prefix.
// "/" matches everything; "/a" matches "/a" and "/a/b" but not "/ab".
func HasPrefix(path, prefix string) bool {
	if prefix == "/" || prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
