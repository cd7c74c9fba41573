// Package apperr defines the error taxonomy shared by every orchestrator and
// repository in FuseVault. Callers classify failures with errors.As instead
// of matching on strings, the way the teacher's database package exposes
// sentinel errors for repository failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the HTTP adapter needs to see it.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindAuthorization          Kind = "authorization"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindRateLimited            Kind = "rate_limited"
	KindDependencyUnavailable  Kind = "dependency_unavailable"
	KindIntegrityFailure       Kind = "integrity_failure"
	KindInternal               Kind = "internal"
)

// Error is the single error type every component in FuseVault returns.
// Message is safe to surface to a caller; Cause is the underlying error for
// logs and is never included in Message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that carries an underlying cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal for anything
// that isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
