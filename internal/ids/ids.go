// Package ids generates the opaque, lexicographically-sortable identifiers
// used for every entity kind. Ids are a short kind prefix plus a UUIDv7
// rendered as 32 hex chars; the embedded millisecond timestamp makes ids of
// the same kind sort by creation time.
package ids

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Entity kind prefixes.
const (
	Note        = "note"
	Version     = "ver"
	Collection  = "col"
	Passage     = "pas"
	Corpus      = "cor"
	Index       = "idx"
	Citation    = "cit"
	Answer      = "ans"
	Query       = "qry"
	Event       = "evt"
	Publication = "pub"
)

// New returns a fresh id for the given kind prefix, e.g. New(ids.Note)
// yields "note_0190b2…".
func New(kind string) string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		u = uuid.New()
	}
	return kind + "_" + hex.EncodeToString(u[:])
}

// Kind returns the prefix of an id, or "" if the id is malformed.
func Kind(id string) string {
	i := strings.IndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return ""
	}
	return id[:i]
}

// Valid reports whether id is a well-formed id of the given kind.
func Valid(id, kind string) bool {
	if Kind(id) != kind {
		return false
	}
	suffix := id[len(kind)+1:]
	if len(suffix) != 32 {
		return false
	}
	_, err := hex.DecodeString(suffix)
	return err == nil
}
