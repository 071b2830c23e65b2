package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a chat error for transport mapping.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindForbidden          Kind = "forbidden"
	KindUnavailable        Kind = "unavailable"
	KindTimedOut           Kind = "timed_out"
	KindAlreadyExists      Kind = "already_exists"
	KindAlreadyProcessed   Kind = "already_processed"
	KindNotFound           Kind = "not_found"
	KindModerationRejected Kind = "moderation_rejected"
)

// Error carries a Kind alongside the reason reported to the caller.
type Error struct {
	ErrKind Kind
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.ErrKind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Reason, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind returns the classification for the error.
func (e *Error) Kind() Kind {
	return e.ErrKind
}

// NewError constructs a classified error with a caller-facing reason.
func NewError(kind Kind, reason string) *Error {
	return &Error{ErrKind: kind, Reason: reason}
}

// WrapError attaches a cause to a classified error.
func WrapError(kind Kind, reason string, cause error) *Error {
	return &Error{ErrKind: kind, Reason: reason, Cause: cause}
}

// KindOf extracts the Kind from err, or empty when err is not a chat error.
func KindOf(err error) Kind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.ErrKind
	}
	return ""
}
