// Package gwerr defines the gateway's error taxonomy. Every error surfaced
// to a caller carries a stable machine-readable kind plus a human-readable
// message; the HTTP layer maps kinds to status codes and error frames.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of gateway error.
type Kind string

const (
	// KindNotFound means the referenced session or archive does not exist.
	KindNotFound Kind = "not_found"

	// KindNotReady means the operation requires a ready session but the
	// session is in another state.
	KindNotReady Kind = "not_ready"

	// KindInvalidTarget means the destination address could not be normalized.
	KindInvalidTarget Kind = "invalid_target"

	// KindInvalidInput means a required request field is missing or malformed.
	KindInvalidInput Kind = "invalid_input"

	// KindDriverFailure means the underlying automation driver failed after
	// any local retries were exhausted.
	KindDriverFailure Kind = "driver_failure"

	// KindRateLimited means the caller exceeded an operation quota.
	KindRateLimited Kind = "rate_limited"
)

// Error is a gateway error with a stable kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given kind and message wrapping cause.
// Returns nil if cause is nil.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the Kind from err. Returns the empty Kind if err is not a
// gateway error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
