// Package errs defines the error-kind taxonomy shared by every core
// component (port registry, connectors, orchestration, hypervisor).
//
// Go has no variant-matching `thiserror` enum, so the taxonomy is
// expressed as a closed Kind plus a wrapping Error type. Callers
// inspect the kind with errors.As and KindOf rather than type-switching
// on concrete error values.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of error categories. It does not carry
// a message; Error does.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Configuration   Kind = "configuration"
	ExternalService Kind = "external_service"
	Timeout         Kind = "timeout"
	Internal        Kind = "internal"
)

// Error is the concrete error type returned by core operations. It
// always carries a stable Kind and a human-readable Message, and may
// wrap an underlying cause.
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

func new_(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewValidation(format string, args ...any) *Error      { return new_(Validation, format, args...) }
func NewNotFound(format string, args ...any) *Error        { return new_(NotFound, format, args...) }
func NewConflict(format string, args ...any) *Error        { return new_(Conflict, format, args...) }
func NewConfiguration(format string, args ...any) *Error    { return new_(Configuration, format, args...) }
func NewExternalService(format string, args ...any) *Error { return new_(ExternalService, format, args...) }
func NewTimeout(format string, args ...any) *Error         { return new_(Timeout, format, args...) }
func NewInternal(format string, args ...any) *Error        { return new_(Internal, format, args...) }

// KindOf returns the Kind attached to err, walking the unwrap chain.
// It returns Internal for any error that never passed through this
// package, since an un-kinded error reaching a caller is itself a
// bookkeeping gap.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's kind (or any wrapped Error's kind) equals k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
