package session

import "errors"

// Sentinel errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidCredentials is returned when the identity service rejects
	// a login or registration attempt.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrNetwork is returned when the identity service is unreachable.
	ErrNetwork = errors.New("session: identity service unreachable")

	// ErrServer is returned when the identity service fails internally.
	ErrServer = errors.New("session: identity service error")

	// ErrNoSession is returned when an operation requires an active
	// session and none exists.
	ErrNoSession = errors.New("session: no active session")
)
