package sessionstore

import (
	"errors"
	"fmt"
)

var (
	// ErrCookie is the parent of every cookie decoding failure.
	ErrCookie = errors.New("session cookie error")

	// ErrCookieMissing is returned when the request carries no session cookie.
	ErrCookieMissing = fmt.Errorf("%w: missing", ErrCookie)

	// ErrCookieMalformed is returned when the cookie value does not have the expected shape.
	ErrCookieMalformed = fmt.Errorf("%w: malformed", ErrCookie)

	// ErrCookieTampered is returned when the cookie has the expected shape but fails verification.
	ErrCookieTampered = fmt.Errorf("%w: tamper detected", ErrCookie)

	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrCapacityExceeded reports that the number of cached sessions crossed Config.MaxSessions.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrSessionTooLarge is returned when the session data exceeds the configured MaxSessionBytes.
	ErrSessionTooLarge = errors.New("session data too large")

	// ErrInvalidSessionID is returned when the session ID format is invalid.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrCountUnsupported is returned by backends that cannot enumerate their records.
	ErrCountUnsupported = errors.New("backend cannot count sessions")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid session config")

	// ErrHandleClosed is returned when a handle is flushed after it was destroyed and flushed once.
	ErrHandleClosed = errors.New("session handle closed")
)

// BackendError wraps a failure reported by a Backend.
type BackendError struct {
	Op      string
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("session backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
