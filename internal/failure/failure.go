// Package failure defines the typed failure records returned to graphd callers.
//
// Every request submitted to the core resolves to exactly one Result or one
// *Failure. Failures carry a Kind from a closed taxonomy so that callers can
// decide whether to retry, re-establish a session, or fix the payload without
// parsing messages.
//
// Inner layers wrap errors with fmt.Errorf("...: %w") as usual; the executor
// and the engine convert whatever reaches their boundary into a *Failure.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind string

const (
	// StoreUnavailable means the data directory could not be opened, is locked
	// by another process, is corrupt, or the store is shutting down.
	StoreUnavailable Kind = "STORE_UNAVAILABLE"

	// Overloaded means the admission queue or the reader pool rejected the
	// request (backpressure).
	Overloaded Kind = "OVERLOADED"

	// DeadlineExceeded means the request deadline passed, or it waited in the
	// queue longer than the configured queue timeout.
	DeadlineExceeded Kind = "DEADLINE_EXCEEDED"

	// LockTimeout means a write transaction could not acquire the writer slot
	// within the configured lock-wait timeout.
	LockTimeout Kind = "LOCK_TIMEOUT"

	// ConflictAborted means the engine refused to durably apply the transaction.
	ConflictAborted Kind = "CONFLICT_ABORTED"

	// TransactionTimeout means the transaction was held open past its maximum
	// duration and was force-aborted.
	TransactionTimeout Kind = "TRANSACTION_TIMEOUT"

	// SchemaViolation means the operation does not match the graph schema.
	SchemaViolation Kind = "SCHEMA_VIOLATION"

	// EngineError wraps an engine-level failure; the cause is preserved.
	EngineError Kind = "ENGINE_ERROR"

	// UnknownSession means the session ID was never issued or was closed.
	UnknownSession Kind = "UNKNOWN_SESSION"

	// SessionExpired means the session was reclaimed after being idle.
	SessionExpired Kind = "SESSION_EXPIRED"

	// Canceled means the caller cancelled the request.
	Canceled Kind = "CANCELED"

	// NotFound means a referenced node or edge does not exist.
	NotFound Kind = "NOT_FOUND"

	// InvalidRequest means the request is malformed or not allowed in the
	// current session/transaction state.
	InvalidRequest Kind = "INVALID_REQUEST"
)

// Failure is the typed failure record.
type Failure struct {
	// Kind identifies the failure category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// RequestID correlates the failure with the originating request.
	RequestID string

	// Cause is the underlying error, if any. Always set for EngineError.
	Cause error

	// transient is set for EngineError when the cause is a transient engine
	// condition (busy, I/O, resource exhaustion).
	transient bool
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.RequestID != "" {
		msg += fmt.Sprintf(" (request=%s)", f.RequestID)
	}
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Retriable reports whether re-submitting the request (possibly in a fresh
// transaction or session) may succeed without changing the payload.
func (f *Failure) Retriable() bool {
	switch f.Kind {
	case Overloaded, DeadlineExceeded, LockTimeout, ConflictAborted, TransactionTimeout:
		return true
	case EngineError:
		return f.transient
	default:
		return false
	}
}

// RequiresNewSession reports whether the caller must establish a new session.
func (f *Failure) RequiresNewSession() bool {
	return f.Kind == UnknownSession || f.Kind == SessionExpired
}

// WithRequest returns a copy of f bound to the given request ID.
// The receiver is left untouched so shared failures stay immutable.
func (f *Failure) WithRequest(requestID string) *Failure {
	c := *f
	c.RequestID = requestID
	return &c
}

// New creates a failure of the given kind.
func New(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a failure of the given kind with a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Engine creates an EngineError failure. transient marks causes that may
// succeed on retry.
func Engine(cause error, transient bool, format string, args ...any) *Failure {
	return &Failure{
		Kind:      EngineError,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		transient: transient,
	}
}

// From converts an arbitrary error into a *Failure.
//
// Failures pass through unchanged (including wrapped ones); context errors map
// to Canceled / DeadlineExceeded; anything else becomes a non-transient
// EngineError with the error as cause.
func From(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(Canceled, err, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(DeadlineExceeded, err, "deadline exceeded")
	}
	return Engine(err, false, "unexpected error")
}

// KindOf returns the failure kind of err, or "" if err is not a failure.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err is a failure of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
