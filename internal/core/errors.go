package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors so transports can map them to responses.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindAuthorization     ErrorKind = "forbidden"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindNotFound          ErrorKind = "not_found"
	KindNotTrackable      ErrorKind = "not_trackable"
)

// Error is a classified domain error.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same kind when the target carries no message,
// so errors.Is(err, ErrNotFound) works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	// ErrNotTrackable rejects samples for assignments that are not in progress.
	ErrNotTrackable = &Error{Kind: KindNotTrackable}
)

func newError(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validationf returns a validation error.
func Validationf(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

// Forbiddenf returns an authorization error.
func Forbiddenf(format string, args ...any) error {
	return newError(KindAuthorization, format, args...)
}

// InvalidTransitionf returns a state machine precondition error.
func InvalidTransitionf(format string, args ...any) error {
	return newError(KindInvalidTransition, format, args...)
}

// NotFoundf returns a not-found error.
func NotFoundf(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// NotTrackablef returns a rejection for samples on non-trackable assignments.
func NotTrackablef(format string, args ...any) error {
	return newError(KindNotTrackable, format, args...)
}

// KindOf returns the kind of a domain error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
