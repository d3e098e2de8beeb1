// Package errs provides the typed error kinds every service layer raises
// and that the HTTP layer translates to the wire error envelope, per
// spec.md §7.
package errs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is one of the fixed error categories the spec maps to an HTTP status
// and, for sync contention, a stable error code.
type Kind string

const (
	Unauthorized        Kind = "UNAUTHORIZED"
	Forbidden           Kind = "FORBIDDEN"
	NotFound            Kind = "NOT_FOUND"
	Conflict            Kind = "CONFLICT"
	BadRequest          Kind = "BAD_REQUEST"
	HashMismatch        Kind = "HASH_MISMATCH"
	RateLimited         Kind = "RATE_LIMITED"
	Internal            Kind = "INTERNAL"
	RangeNotSatisfiable Kind = "RANGE_NOT_SATISFIABLE"
)

var httpStatus = map[Kind]int{
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	Conflict:            http.StatusConflict,
	BadRequest:          http.StatusBadRequest,
	HashMismatch:        http.StatusBadRequest,
	RateLimited:         http.StatusTooManyRequests,
	Internal:            http.StatusInternalServerError,
	RangeNotSatisfiable: http.StatusRequestedRangeNotSatisfiable,
}

// E is the typed error every core component raises. HTTP handlers inspect
// Kind (never the message) to pick a status code, so message text is free
// to change without breaking the wire contract.
type E struct {
	Kind    Kind
	Code    string // stable machine-readable code, e.g. "E0078" for sync contention
	Message string
	cause   error
}

func (e *E) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.cause }

// HTTPStatus returns the status code the spec's §7 table assigns to e.Kind.
func (e *E) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newf(kind Kind, format string, args ...interface{}) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *E  { return newf(NotFound, format, args...) }
func ForbiddenF(format string, args ...interface{}) *E { return newf(Forbidden, format, args...) }
func BadRequestf(format string, args ...interface{}) *E {
	return newf(BadRequest, format, args...)
}
func Unauthorizedf(format string, args ...interface{}) *E {
	return newf(Unauthorized, format, args...)
}
func HashMismatchf(format string, args ...interface{}) *E {
	return newf(HashMismatch, format, args...)
}
func RateLimitedf(format string, args ...interface{}) *E { return newf(RateLimited, format, args...) }

// RangeNotSatisfiablef builds a 416 error for a syntactically valid Range
// header whose bounds don't fit the resource, distinct from a malformed
// header (BadRequestf, 400).
func RangeNotSatisfiablef(format string, args ...interface{}) *E {
	return newf(RangeNotSatisfiable, format, args...)
}

// Conflictf builds a CONFLICT error with an optional stable code (pass ""
// when the spec does not name one).
func Conflictf(code, format string, args ...interface{}) *E {
	e := newf(Conflict, format, args...)
	e.Code = code
	return e
}

// Internalf wraps an unexpected lower-layer error (DB, I/O) as an INTERNAL
// error, keeping the original as the wrapped cause: Error() prints it and
// Unwrap returns it.
func Internalf(cause error, format string, args ...interface{}) *E {
	e := newf(Internal, format, args...)
	e.cause = errors.WithStack(cause)
	return e
}

// ErrSyncContention is the §4.6/§7 sync lease contention error: a different
// equipment already holds an unexpired lease.
func ErrSyncContention(heldBy string) *E {
	e := Conflictf("E0078", "sync lease held by equipment %q", heldBy)
	return e
}

// Is reports whether err (or something it wraps) is an *E of the given kind.
func Is(err error, kind Kind) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts an *E from err, following the same convention as errors.As.
func As(err error) (*E, bool) {
	var e *E
	ok := errors.As(err, &e)
	return e, ok
}
