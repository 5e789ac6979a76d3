// Package toolerr defines the failure taxonomy shared by the tool registry
// and every protocol adapter.
//
// Handlers and the registry return *Error values; adapters classify with
// KindOf and render with Public so the same failure looks the same on every
// transport.
package toolerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a failure class.
type Kind string

const (
	KindProtocol        Kind = "ProtocolError"
	KindNotFound        Kind = "NotFound"
	KindValidation      Kind = "ValidationFailure"
	KindSessionNotFound Kind = "SessionNotFound"
	KindTimeout         Kind = "Timeout"
	KindBusiness        Kind = "BusinessFailure"
	KindInternal        Kind = "InternalError"
)

// Error is a classified failure. Field names the offending argument for
// validation failures.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Protocol reports a malformed envelope.
func Protocol(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown tool or an identifier that matches no record.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a schema or argument violation on field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// SessionNotFound reports a reference to an unknown or closed session.
func SessionNotFound(id string) *Error {
	return &Error{Kind: KindSessionNotFound, Message: fmt.Sprintf("session %q not found", id)}
}

// Timeout reports a handler that exceeded its execution bound.
func Timeout(tool string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("tool %q timed out", tool), Err: err}
}

// Business reports a request the handler understood but could not honor.
func Business(format string, args ...any) *Error {
	return &Error{Kind: KindBusiness, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected collaborator failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Deadline expiry counts as a timeout; anything
// unrecognized is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// As returns err as a *Error, classifying unknown errors as internal.
func As(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "operation timed out", Err: err}
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// Public returns the message safe to show an external caller. Internal
// errors never leak their cause.
func Public(err error) string {
	te := As(err)
	if te.Kind == KindInternal {
		return "internal error"
	}
	if te.Field != "" {
		return te.Field + ": " + te.Message
	}
	return te.Message
}
