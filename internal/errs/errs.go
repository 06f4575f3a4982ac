// Package errs defines the error taxonomy shared by the ingestion flows.
//
// Every error that crosses a component boundary carries a Kind so callers
// decide retry, quarantine or exit code from the kind, never from text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller must react to it.
type Kind int

const (
	// Unknown is any error not produced by this package.
	Unknown Kind = iota
	// UserInput is a bad argument or malformed filter. Not retried.
	UserInput
	// DataQuality is a validation failure on source rows.
	DataQuality
	// Coverage is missing or insufficient reference data. Recoverable.
	Coverage
	// ConcurrencyConflict is an optimistic write collision.
	ConcurrencyConflict
	// ForwardOnlyViolation is a reference-data update with a non-increasing effective timestamp.
	ForwardOnlyViolation
	// Infra is a storage, network or filesystem failure.
	Infra
)

func (k Kind) String() string {
	switch k {
	case UserInput:
		return "user_input"
	case DataQuality:
		return "data_quality"
	case Coverage:
		return "coverage"
	case ConcurrencyConflict:
		return "concurrency_conflict"
	case ForwardOnlyViolation:
		return "forward_only_violation"
	case Infra:
		return "infra"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	Kind   Kind
	Op     string // Operation that failed (e.g., "refdata.apply")
	Reason string // Human-readable detail
	Err    error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Reason != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Reason
	}
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error without a cause.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps an error to the CLI exit code: 0 success, 1 user or
// validation error, 2 infrastructure or data error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case UserInput, ForwardOnlyViolation:
		return 1
	default:
		return 2
	}
}
