// Package herr defines Hustle's error-kind taxonomy (spec §7): a small set
// of kinds rather than a deep type hierarchy, each wrapping an underlying
// cause the way the teacher project wraps storage errors with fmt.Errorf
// and tests them with errors.Is/errors.As.
package herr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way execute_query reports it to callers
// (spec §7).
type Kind int

const (
	// KindSchemaMismatch: insertion or DDL shape does not match the
	// declared schema.
	KindSchemaMismatch Kind = iota
	// KindUnsupportedFeature: the parser oracle returned a construct the
	// core cannot execute (correlated subquery, window function, full
	// outer join, non-leaf NOT, non-equijoin predicate).
	KindUnsupportedFeature
	// KindPlanError: resolution produced inconsistent references (unknown
	// column, type-incompatible comparison).
	KindPlanError
	// KindExecutionError: arithmetic overflow, I/O failure reading a
	// snapshot. (Division by zero in an aggregate is NOT this kind — it
	// becomes a null result per spec §4.8, not an error.)
	KindExecutionError
	// KindInternal: an invariant was violated. Always a bug.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindUnsupportedFeature:
		return "unsupported_feature"
	case KindPlanError:
		return "plan_error"
	case KindExecutionError:
		return "execution_error"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type surfaced by execute_query and friends.
// It always carries a Kind and a message, and optionally wraps a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hustle: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("hustle: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a *Error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal, false otherwise.
func KindOf(err error) (Kind, bool) {
	var herrErr *Error
	if errors.As(err, &herrErr) {
		return herrErr.Kind, true
	}
	return KindInternal, false
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
