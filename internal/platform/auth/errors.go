package auth

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against any error returned by the
// Gateway or recorded as Session.LastError.
var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRequestFailed      = errors.New("request failed")
	ErrNetwork            = errors.New("network error")
	ErrSessionExpired     = errors.New("session expired")
)

// Error is a normalized auth failure. Message is safe to show to the user.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
}

// Is makes errors.Is(err, ErrNetwork) and friends match on Kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text of err, or a generic sentence for
// errors that did not come from this package.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "Something went wrong. Please try again."
}

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	default:
		return "internal"
	}
}

// SessionExpired is recorded as Session.LastError when the identity service
// stops accepting a credential that has passed its expiry.
func SessionExpired() error {
	return newError(ErrSessionExpired, "session", "Your session has expired. Please sign in again.", nil)
}

func newError(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}
