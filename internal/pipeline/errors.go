package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and propagation decisions.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // bad input, rejected before state exists
	KindTransient  ErrorKind = "transient"  // engine timeout/unavailable, retried
	KindPermanent  ErrorKind = "permanent"  // corrupt input, unsupported format, no retry
	KindNotFound   ErrorKind = "not_found"  // unknown call or moment
	KindConflict   ErrorKind = "conflict"   // duplicate submission or lease contention
)

// Error carries a failure classification alongside the underlying cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Transientf builds a retryable engine error.
func Transientf(format string, args ...any) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

// Permanentf builds a non-retryable engine error.
func Permanentf(format string, args ...any) error {
	return &Error{Kind: KindPermanent, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps err as retryable, preserving the cause.
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// Permanent wraps err as non-retryable, preserving the cause.
func Permanent(msg string, err error) error {
	return &Error{Kind: KindPermanent, Msg: msg, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors are treated
// as transient so an unknown engine failure stays retriable.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool  { return KindOf(err) == KindPermanent }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
