package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies negotiation failures for callers and transports.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindInvalidState  ErrorKind = "invalid_state"
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal"
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown RFQ or bid id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// InvalidStateError reports an operation that is illegal for the record's current status.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %q in status %s", e.Op, e.Entity, e.ID, e.Status)
}

// AuthorizationError reports an actor without rights over the record.
type AuthorizationError struct {
	ActorID string
	Entity  string
	ID      string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q is not allowed to act on %s %q", e.ActorID, e.Entity, e.ID)
}

// ConflictError reports a failed version check on a concurrent mutation.
// It is the only retryable kind: re-read and retry.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent update on %s %q", e.Entity, e.ID)
}

// KindOf returns the taxonomy kind of err, or KindInternal for anything unclassified.
func KindOf(err error) ErrorKind {
	var (
		ve *ValidationError
		ne *NotFoundError
		se *InvalidStateError
		ae *AuthorizationError
		ce *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ne):
		return KindNotFound
	case errors.As(err, &se):
		return KindInvalidState
	case errors.As(err, &ae):
		return KindAuthorization
	case errors.As(err, &ce):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the caller may retry err without changing its input.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
