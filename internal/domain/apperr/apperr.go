// Package apperr classifies domain failures so callers can branch on kind.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindUnavailable: no history, no model, no precompute.
	KindUnavailable
	// KindContention: a transient store lock or serialization failure.
	KindContention
	// KindEvaluationFailed: one optimizer or backtest evaluation failed.
	KindEvaluationFailed
	// KindFatal: the whole pipeline cannot continue.
	KindFatal
	KindInvalid
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindContention:
		return "contention"
	case KindEvaluationFailed:
		return "evaluation_failed"
	case KindFatal:
		return "fatal"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failing operation and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Unavailable(op, format string, args ...any) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf(format, args...)}
}

func Contention(op string, err error) error {
	return &Error{Kind: KindContention, Op: op, Err: err}
}

func EvaluationFailed(op string, err error) error {
	return &Error{Kind: KindEvaluationFailed, Op: op, Err: err}
}

func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost kind in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsUnavailable(err error) bool { return Is(err, KindUnavailable) }

func IsContention(err error) bool { return Is(err, KindContention) }
