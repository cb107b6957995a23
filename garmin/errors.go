package garmin

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client surfaces.
type Kind int

const (
	// KindNotAuthenticated means a fetch ran before any successful login.
	KindNotAuthenticated Kind = iota + 1
	// KindAuthenticationFailed means the credentials were rejected or the
	// session stayed unauthorized after one refresh.
	KindAuthenticationFailed
	// KindTooManyRequests means the server asked us to back off.
	KindTooManyRequests
	// KindConnectionFailed covers every other server or transport failure.
	KindConnectionFailed
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not authenticated"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindTooManyRequests:
		return "too many requests"
	case KindConnectionFailed:
		return "connection failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrNotAuthenticated     = &Error{Kind: KindNotAuthenticated}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrTooManyRequests      = &Error{Kind: KindTooManyRequests}
	ErrConnectionFailed     = &Error{Kind: KindConnectionFailed}
)

// Error is the only error type returned by Session and Fetcher operations.
type Error struct {
	Kind Kind
	// Op names the logical operation, e.g. "devices" or "login".
	Op string
	// StatusCode is the HTTP status when one was received, 0 otherwise.
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := "garmin: " + e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("garmin %s: %s", e.Op, e.Kind)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, StatusCode: status, Err: err}
}

// KindOf returns the Kind carried by err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotAuthenticated checks if err means login was never performed
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// IsAuthenticationFailed checks if err is a credential or session rejection
func IsAuthenticationFailed(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsTooManyRequests checks if err is a rate limit signal
func IsTooManyRequests(err error) bool {
	return errors.Is(err, ErrTooManyRequests)
}

// IsConnectionFailed checks if err is a server or transport failure
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
