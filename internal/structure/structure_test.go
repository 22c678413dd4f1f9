package structure

import (
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Local-first notes", "local-first-notes"},
		{"Hello World", "hello-world"},
		{"  Spaces   Everywhere  ", "spaces-everywhere"},
		{"C++ & Go!", "c-go"},
		{"", ""},
		{"ALLCAPS", "allcaps"},
		{strings.Repeat("a", 60), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathAt(t *testing.T) {
	doc := "intro text\n# Alpha\nalpha body\n## Beta\nbeta body\n# Gamma\ngamma body\n"
	e := New(doc)

	tests := []struct {
		offset int
		want   string
	}{
		{0, "/"},
		{strings.Index(doc, "alpha body"), "/alpha"},
		{strings.Index(doc, "beta body"), "/alpha/beta"},
		{strings.Index(doc, "gamma body"), "/gamma"},
		{len(doc) - 1, "/gamma"},
	}
	for _, tt := range tests {
		if got := e.PathAt(tt.offset); got != tt.want {
			t.Errorf("PathAt(%d) = %q, want %q", tt.offset, got, tt.want)
		}
	}
}

func TestEmptyDocument(t *testing.T) {
	e := New("")
	if got := e.PathAt(0); got != "/" {
		t.Errorf("empty doc PathAt = %q, want /", got)
	}
	if paths := e.Paths(); len(paths) != 1 || paths[0] != "/" {
		t.Errorf("empty doc Paths = %v", paths)
	}
}

func TestHeadingInsideFenceIgnored(t *testing.T) {
	doc := "# Real\n```\n# Not a heading\n```\ntail\n"
	e := New(doc)
	if got := e.PathAt(len(doc) - 2); got != "/real" {
		t.Errorf("PathAt tail = %q, want /real", got)
	}
}

func TestSkippedLevels(t *testing.T) {
	doc := "# Top\n### Deep\nbody\n"
	e := New(doc)
	if got := e.PathAt(strings.Index(doc, "body")); got != "/top/deep" {
		t.Errorf("PathAt = %q, want /top/deep", got)
	}
}

func TestSiblingHeadingResetsDeeperLevels(t *testing.T) {
	doc := "# A\n## B\n## C\nbody\n"
	e := New(doc)
	if got := e.PathAt(strings.Index(doc, "body")); got != "/a/c" {
		t.Errorf("PathAt = %q, want /a/c", got)
	}
}

func TestNotAHeading(t *testing.T) {
	for _, doc := range []string{"#nospace\n", "####### seven\n", "x # mid\n"} {
		e := New(doc)
		if got := e.PathAt(len(doc) - 1); got != "/" {
			t.Errorf("doc %q: PathAt = %q, want /", doc, got)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/a/b", "/", true},
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"/a/b", "/b", false},
		{"/", "/a", false},
	}
	for _, tt := range tests {
		if got := HasPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}
