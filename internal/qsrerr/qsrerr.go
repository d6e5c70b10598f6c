// Package qsrerr defines the closed error taxonomy shared across ingestion,
// retrieval, and the HTTP ingress so that every failure mode carries a
// stable, client-facing kind alongside a sanitized message.
package qsrerr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories. Callers should switch on Kind,
// never on message text.
type Kind string

const (
	ValidationRejected Kind = "ValidationRejected"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	ContentMalformed    Kind = "ContentMalformed"
	NotFound            Kind = "NotFound"
	ConflictingWrite    Kind = "ConflictingWrite"
	DeadlineExceeded    Kind = "DeadlineExceeded"
	SecurityViolation   Kind = "SecurityViolation"
	InternalInvariant   Kind = "InternalInvariant"
)

// Error is the carrier type for all qsrcore failures. Message must already
// be sanitized before it is attached here; Error does not sanitize.
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

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that carries cause for %w-based unwrapping while
// still presenting a stable Kind and a caller-controlled message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting to
// InternalInvariant for errors that never passed through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalInvariant
}
