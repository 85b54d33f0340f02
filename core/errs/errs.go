// Package errs defines the error taxonomy shared by the request runtime.
// Every kind carries a stable code consumed by the routing layer's summary
// logs and by the global error boundary when deciding whether a user-facing
// reply is appropriate.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies runtime failures into the categories the error boundary
// knows how to handle.
type Kind string

const (
	// KindStorage marks begin/commit/rollback/query failures. Never retried.
	KindStorage Kind = "storage"
	// KindUserNotRegistered marks a failed required-user resolution.
	KindUserNotRegistered Kind = "user_not_registered"
	// KindStateNotInitialized marks access to absent conversation state.
	// Programming-error class.
	KindStateNotInitialized Kind = "state_not_initialized"
	// KindInvalidPayload marks a callback payload that could not be decoded.
	KindInvalidPayload Kind = "invalid_payload"
	// KindUnauthorized marks a rejected authorization predicate.
	KindUnauthorized Kind = "unauthorized"
)

// Error is a classified runtime error with an optional cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New builds an Error of the given kind with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.msg != "" {
			return e.msg + ": " + e.cause.Error()
		}
		return e.cause.Error()
	}
	return e.msg
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the uppercase error code used in structured logs.
func (e *Error) Code() string {
	return strings.ToUpper(string(e.kind))
}

// Storage wraps a store failure.
func Storage(op string, cause error) *Error {
	return Wrap(KindStorage, op, cause)
}

// UserNotRegistered reports that no identity record exists for an external id.
func UserNotRegistered(telegramID int64) *Error {
	return New(KindUserNotRegistered, fmt.Sprintf("user %d is not registered", telegramID))
}

// StateNotInitialized reports absent conversation state for a tag.
func StateNotInitialized(tag string) *Error {
	return New(KindStateNotInitialized, fmt.Sprintf("conversation state %q is not initialized", tag))
}

// InvalidPayload reports an undecodable callback payload.
func InvalidPayload(cause error) *Error {
	return Wrap(KindInvalidPayload, "callback payload", cause)
}

// Unauthorized reports a rejected caller.
func Unauthorized(msg string) *Error {
	if msg == "" {
		msg = "unauthorized"
	}
	return New(KindUnauthorized, msg)
}

// KindOf extracts the Kind from an error chain, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
