package realtime

import "context"

// Command actions accepted by the measurement hub.
const (
	ActionSubscribe   = "SubscribeToDevice"
	ActionUnsubscribe = "UnsubscribeFromDevice"
)

// Command is a server-bound subscription command.
type Command struct {
	Action   string `json:"type"`
	DeviceID string `json:"device_id"`
}

// Transport dials individual connections to the measurement hub.
//
// A Transport performs no reconnection of its own: each Dial is a single
// attempt, and the Channel layers backoff and subscription replay above it.
// Implementations: the websocket transport (primary) and the MQTT bridge.
type Transport interface {
	// Dial establishes one authenticated connection attempt. The token is
	// the session access token current at call time.
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is a single live connection to the measurement hub.
//
// Send and Receive may be called from different goroutines; Send is safe
// for concurrent use, Receive is not.
type Conn interface {
	// Send issues a subscription command to the hub.
	Send(ctx context.Context, cmd Command) error

	// Receive blocks until the next event arrives. It returns
	// ErrConnectionClosed (possibly wrapped) when the connection dies.
	Receive(ctx context.Context) (Event, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
