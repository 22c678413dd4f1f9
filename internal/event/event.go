// Package event defines the persisted event envelope used for replay
// and introspection. Consumers must be idempotent by event id.
package event

import (
	"encoding/json"
	"time"

	"github.com/inkwell-labs/inkwell/internal/ids"
)

// SchemaVersion of the envelope payloads.
const SchemaVersion = 1

// Event types.
const (
	TypeDraftSaved           = "DraftSaved"
	TypeVersionCreated       = "VersionCreated"
	TypeVisibilityEvent      = "VisibilityEvent"
	TypeIndexUpdateStarted   = "IndexUpdateStarted"
	TypeIndexUpdateCommitted = "IndexUpdateCommitted"
	TypeIndexUpdateFailed    = "IndexUpdateFailed"
	TypeQuerySubmitted       = "QuerySubmitted"
	TypeAnswerComposed       = "AnswerComposed"
	TypeCitationResolved     = "CitationResolved"
	TypeAnchorDriftDetected  = "AnchorDriftDetected"
)

// Envelope wraps one event for persistence.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion int             `json:"schema_version"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

// New wraps a payload in a fresh envelope. Marshal failures are a
// programming error; the payload is replaced by its error string so the
// event stream never drops an occurrence.
func New(eventType string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return Envelope{
		EventID:       ids.New(ids.Event),
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Type:          eventType,
		Payload:       raw,
	}
}

// VisibilityOp is the index mutation requested by a publication.
type VisibilityOp string

const (
	OpPublish   VisibilityOp = "publish"
	OpRepublish VisibilityOp = "republish"
	OpRollback  VisibilityOp = "rollback"
)

// Visibility is the payload of a VisibilityEvent: the scheduler's unit
// of work.
type Visibility struct {
	VersionID   string       `json:"version_id"`
	NoteID      string       `json:"note_id"`
	Op          VisibilityOp `json:"op"`
	Collections []string     `json:"collections"`
}
