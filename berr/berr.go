// Package berr defines the error kinds used throughout busbus, so
// that callers can distinguish "the upstream feed is unreachable"
// from "the feed's CSV data is broken" from "your query was bad"
// without string-matching error text.
package berr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	// FetchFailed means the HTTP fetch of a feed (static or
	// realtime) did not complete.
	FetchFailed Kind = "fetch_failed"
	// MalformedFeed means the feed bytes were retrieved but could
	// not be parsed into valid GTFS data.
	MalformedFeed Kind = "malformed_feed"
	// SchemaUpgradeRequired means the Feed Store's on-disk schema
	// version is older than this build expects.
	SchemaUpgradeRequired Kind = "schema_upgrade_required"
	// SchemaUnknown means the Feed Store's on-disk schema version is
	// newer than this build understands.
	SchemaUnknown Kind = "schema_unknown"
	// InvalidQuery means the caller's request was malformed, e.g. an
	// unbounded realtime query with neither stops nor routes.
	InvalidQuery Kind = "invalid_query"
	// NotFound means a referenced entity does not exist.
	NotFound Kind = "not_found"
	// InternalInvariant means a defensive check caught a condition
	// that should be unreachable.
	InternalInvariant Kind = "internal_invariant"
)

// HTTPStatus maps a Kind to the status code an HTTP-facing caller
// should report. Not used internally -- this is the documented
// boundary contract for whatever transport layer sits in front of
// busbus.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidQuery:
		return 422
	case NotFound:
		return 404
	default:
		return 500
	}
}

// Error wraps a Kind, a message, and (optionally) the underlying
// cause. It satisfies errors.Is against its Kind via Is, and
// errors.Unwrap so pkg/errors' Cause() chains keep working through it.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Cause() error { return e.cause }

// Is reports whether target is a *berr.Error of the same Kind,
// letting callers write errors.Is(err, berr.New(berr.NotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns err's Kind if it (or something it wraps) is a
// *berr.Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}
