// Package apperr defines the error taxonomy shared by the core pipeline
// and the transport shells. Errors are classified by Kind, not by concrete
// type; callers branch on apperr.KindOf and shells map kinds to statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation policy and transport mapping.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRateLimit         Kind = "rate_limit"
	KindStorageIO         Kind = "storage_io"
	KindIndexingFailure   Kind = "indexing_failure"
	KindVisibilityTimeout Kind = "visibility_timeout"
	KindConcurrentUpdate  Kind = "concurrent_update_conflict"
	KindSchemaMismatch    Kind = "schema_version_mismatch"
	KindIndexNotReady     Kind = "index_not_ready"
	KindQueueFull         Kind = "queue_full"
	KindInternal          Kind = "internal"
)

// Error is a kinded error with optional structured detail.
type Error struct {
	kind Kind
	msg  string
	err  error

	// Entity and ID are set for not-found errors.
	Entity string
	ID     string

	// RetryAfter is set for rate-limit errors.
	RetryAfter time.Duration

	// Fields holds per-field validation messages.
	Fields []string
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New creates a kinded error.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// Validation creates a validation error with per-field messages.
func Validation(msg string, fields ...string) *Error {
	return &Error{kind: KindValidation, msg: msg, Fields: fields}
}

// NotFound creates a not-found error for an addressed entity.
func NotFound(entity, id string) *Error {
	return &Error{
		kind:   KindNotFound,
		msg:    fmt.Sprintf("%s %q not found", entity, id),
		Entity: entity,
		ID:     id,
	}
}

// Conflict creates a conflict error (unique constraint, divergent
// idempotency payload, and the like).
func Conflict(msg string) *Error {
	return &Error{kind: KindConflict, msg: msg}
}

// RateLimited creates a rate-limit error carrying the retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		kind:       KindRateLimit,
		msg:        "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// StorageIO wraps a transient storage failure. Safe to retry for pure reads.
func StorageIO(msg string, err error) *Error {
	return &Error{kind: KindStorageIO, msg: msg, err: err}
}

// SchemaMismatch reports persisted state newer than the running code.
func SchemaMismatch(expected, actual int) *Error {
	return Newf(KindSchemaMismatch,
		"schema version mismatch: expected %d, found %d", expected, actual)
}

// KindOf extracts the kind from any error in the chain. Unclassified
// errors report KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError returns the *Error in the chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Retryable reports whether the scheduler may retry the operation.
// Validation, not-found, conflict and schema mismatches are final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStorageIO, KindVisibilityTimeout, KindConcurrentUpdate, KindIndexingFailure:
		return true
	}
	return false
}

// HTTPStatus maps an error kind to the transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindConcurrentUpdate:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindVisibilityTimeout, KindIndexingFailure, KindIndexNotReady, KindQueueFull:
		return http.StatusServiceUnavailable
	case KindSchemaMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
