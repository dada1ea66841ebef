// Package apperr defines the structured error type shared by services, the
// coordination layer, and the HTTP transport.
//
// Inner components never write HTTP responses. They return (or attach to the
// gin context) an *Error carrying a Kind, a stable machine-readable Code and a
// message that is safe to show to clients. The error-handling middleware is
// the single place that turns an *Error into a status code and JSON envelope.
//
// Example:
//
//	var ErrAlreadyRevoked = apperr.New(apperr.KindConflict, "already_revoked", "certificate is already revoked")
//
//	if errors.Is(err, ErrAlreadyRevoked) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes errors for HTTP status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindCsrfInvalid
	KindUnavailable
)

// String returns the lowercase name of the kind (used in logs).
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindCsrfInvalid:
		return "csrf_invalid"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is an error with a category, a stable code and a client-safe message.
//
// Details carries optional per-field problems (rendered as the "errors" array
// of the response envelope). Err is the wrapped cause and is never rendered.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []string
	Err     error
}

// New creates an *Error without a cause. Use it for package-level sentinels.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap creates an *Error that wraps cause.
func Wrap(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same sentinel. Two *Error values match when
// they share Kind and Code, so WithDetails/Wrap copies still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithDetails returns a copy of e carrying per-field details.
func (e *Error) WithDetails(details ...string) *Error {
	cp := *e
	cp.Details = append([]string(nil), details...)
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindCsrfInvalid:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Internal is the generic error rendered for anything that is not an *Error.
var Internal = New(KindInternal, "internal_error", "internal server error")

// From extracts an *Error from err. Unknown errors become Internal wrapping
// err, so callers can always render the result without leaking details.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal.WithCause(err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
