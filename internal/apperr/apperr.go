// Package apperr models the error taxonomy from spec §7 as a typed kind
// so callers can branch with errors.Is/errors.As instead of string
// matching on error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/circuit-breaker/propagation policy.
type Kind string

const (
	KindConnection  Kind = "connection"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindClientError Kind = "client_error"
	KindCircuitOpen Kind = "circuit_open"
	KindValidation  Kind = "validation"
	KindDeclined    Kind = "gateway_declined"
)

// Error wraps an underlying cause with a Kind.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, apperr.New(kind, "", nil)) style kind checks,
// ignoring Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports whether err (or any error it wraps) has the given Kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
