// Package errx classifies failures crossing the conversation boundary so the
// dispatcher can decide between re-prompting, alerting, and plain logging.
package errx

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure classes recognised by the ordering flow.
type Kind string

const (
	// KindNotFound marks a missing product, cart item or address record.
	KindNotFound Kind = "not_found"
	// KindTransport marks an outbound API failure or timeout.
	KindTransport Kind = "transport"
	// KindGeocodeUnresolved marks address text that could not be mapped to coordinates.
	KindGeocodeUnresolved Kind = "geocode_unresolved"
	// KindNoCandidates marks an empty delivery point list (misconfiguration).
	KindNoCandidates Kind = "no_candidates"
	// KindUnknownState marks a persisted session state outside the known set.
	KindUnknownState Kind = "unknown_persisted_state"
	// KindInvalid marks malformed input or configuration.
	KindInvalid Kind = "invalid"
)

// Sentinels allow errors.Is(err, errx.ErrNotFound) style checks.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrGeocodeUnresolved = &Error{Kind: KindGeocodeUnresolved}
	ErrNoCandidates      = &Error{Kind: KindNoCandidates}
	ErrUnknownState      = &Error{Kind: KindUnknownState}
	ErrInvalid           = &Error{Kind: KindInvalid}
)

// Error wraps an underlying error with its kind and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Code returns an upper-case error code used by handler summary logs.
func (e *Error) Code() string {
	return "ERR_" + string(e.Kind)
}

// New creates an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound wraps err as a KindNotFound failure.
func NotFound(op string, err error) error { return New(KindNotFound, op, err) }

// Transport wraps err as a KindTransport failure.
func Transport(op string, err error) error { return New(KindTransport, op, err) }

// GeocodeUnresolved reports that address text could not be resolved.
func GeocodeUnresolved(op string, err error) error { return New(KindGeocodeUnresolved, op, err) }

// NoCandidates reports an empty candidate set.
func NoCandidates(op string) error { return New(KindNoCandidates, op, nil) }

// UnknownState reports a corrupted persisted state value.
func UnknownState(op, raw string) error {
	return New(KindUnknownState, op, fmt.Errorf("state %q", raw))
}

// Invalid wraps err as a KindInvalid failure.
func Invalid(op string, err error) error { return New(KindInvalid, op, err) }

// KindOf returns the kind of the first *Error found in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
