package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failure for the caller-facing boundary.
type ErrorKind string

const (
	// KindRateLimited: recoverable by waiting; carries a retry-after hint.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServiceUnavailable: an external dependency was unreachable after
	// bounded internal retries.
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindNotFound: zero matches; terminal.
	KindNotFound ErrorKind = "not_found"
	// KindValidation: malformed request, rejected before any component ran.
	KindValidation ErrorKind = "validation_error"
)

// Error is the caller-facing failure type. Message is always safe to show to
// the end user; the wrapped cause is for logs only.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a caller-facing error wrapping an optional cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// RateLimited builds a KindRateLimited error with a retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("too many requests; try again in %d seconds", int(retryAfter.Seconds()+0.5)),
		RetryAfter: retryAfter,
	}
}

// KindOf returns the ErrorKind of err, or "" if err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
