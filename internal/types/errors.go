// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors so call sites can decide between retry,
// backoff, recovery via the sweeper, or giving up.
type Kind string

const (
	// KindTransientIO covers timeouts and throttling; callers retry with
	// bounded backoff, never inline-loop indefinitely.
	KindTransientIO Kind = "transient_io"
	// KindCircuitOpen means the call was short-circuited without reaching
	// the collaborator. Not a real failure; logged at low severity.
	KindCircuitOpen Kind = "circuit_open"
	// KindQuotaExhausted means polling for the source is suspended until
	// its quota window resets.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindDataIntegrity marks real data-completeness problems (partial
	// time-series fanout, dedup inconsistency). Always logged at high
	// severity with enough context to replay.
	KindDataIntegrity Kind = "data_integrity"
	// KindPermanent marks malformed or unscoreable items; the sweeper
	// must not retry them.
	KindPermanent Kind = "permanent"
)

// Error carries a Kind alongside a wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error. The last argument, if it is an error, becomes
// the wrapped cause.
func E(kind Kind, format string, args ...any) *Error {
	var cause error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
			args = args[:len(args)-1]
			if format != "" {
				return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
			}
			return &Error{Kind: kind, Err: cause}
		}
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller should retry err with backoff.
// Unclassified errors default to retryable; short-circuits, quota stops,
// and permanent failures do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindCircuitOpen, KindQuotaExhausted, KindPermanent, KindDataIntegrity:
		return false
	}
	return true
}
