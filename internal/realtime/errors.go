package realtime

import "errors"

// Domain-specific errors for realtime operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a server command is attempted
	// while the channel has no live transport connection.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrConnectionClosed is returned by a transport connection when the
	// peer closed it or the link dropped.
	ErrConnectionClosed = errors.New("realtime: connection closed")

	// ErrFaulted is returned when the channel has exhausted its
	// configured reconnection attempts.
	ErrFaulted = errors.New("realtime: channel faulted, reconnect attempts exhausted")

	// ErrBadMessage is returned when an inbound frame cannot be decoded.
	ErrBadMessage = errors.New("realtime: malformed message")
)
