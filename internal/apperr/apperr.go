// Package apperr defines the error kinds shared by the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a referenced meal, day, item or archive entry that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation attempted before its prerequisite state exists.
	ErrInvalidState = errors.New("invalid state")
	// ErrUpstream marks a failed call to an external collaborator (AI, webhook).
	ErrUpstream = errors.New("upstream failure")
)

// Error pairs a kind with a message that is safe to show to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound returns an ErrNotFound error with a formatted message.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput returns an ErrInvalidInput error with a formatted message.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidState returns an ErrInvalidState error with a formatted message.
func InvalidState(format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps cause as an ErrUpstream error.
func Upstream(message string, cause error) error {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{Kind: ErrUpstream, Message: message}
}

// Message returns the caller-safe message of err when it carries one.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
