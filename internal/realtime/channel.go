package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
)

// State is the connection state of a Channel.
type State int

// Channel connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFaulted
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// TokenSource supplies the current session access token for each
// connection attempt. Reading it per attempt means a token refreshed
// between attempts is picked up automatically.
type TokenSource func() string

// Listener receives events of one kind. Dispatch is synchronous with
// event arrival, in registration order.
type Listener func(Event)

// listenerEntry pairs a listener with its registration id for removal.
type listenerEntry struct {
	id uint64
	fn Listener
}

// Subscription is a handle to a registered listener. Remove unregisters
// it; events arriving afterwards are not delivered to it.
type Subscription struct {
	ch   *Channel
	kind EventKind
	id   uint64
}

// Remove unregisters the listener.
func (s Subscription) Remove() {
	if s.ch != nil {
		s.ch.removeListener(s.kind, s.id)
	}
}

// Channel manages one logical connection to the measurement event stream.
//
// It owns the client-side Subscription Set and guarantees that after every
// successful (re)connect the server-side subscriptions equal that set
// exactly: the full set is replayed before any event is dispatched.
//
// Reconnection uses exponential backoff (min(initial<<attempt, max)); the
// attempt counter resets on success. Handshake and auth failures are
// retried like any transient error, since a token refresh between
// attempts may resolve them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listeners are invoked from the channel's read goroutine.
type Channel struct {
	transport Transport
	cfg       config.ReconnectConfig
	tokens    TokenSource
	log       *logging.Logger

	mu     sync.Mutex
	state  State
	subs   map[string]struct{}
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	listenerMu sync.RWMutex
	listeners  map[EventKind][]listenerEntry
	nextID     uint64

	stateMu sync.RWMutex
	onState func(State)

	// after is time.After, replaceable in tests to skip backoff waits.
	after func(time.Duration) <-chan time.Time
}

// NewChannel creates a Channel over the given transport.
//
// Parameters:
//   - transport: dials individual hub connections
//   - cfg: reconnection backoff policy
//   - tokens: supplies the session access token per connection attempt
//   - log: structured logger
func NewChannel(transport Transport, cfg config.ReconnectConfig, tokens TokenSource, log *logging.Logger) *Channel {
	return &Channel{
		transport: transport,
		cfg:       cfg,
		tokens:    tokens,
		log:       log.With("component", "realtime"),
		subs:      make(map[string]struct{}),
		listeners: make(map[EventKind][]listenerEntry),
		after:     time.After,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetStateHandler registers a callback invoked on every state transition.
// Used by owners to surface Faulted as a dismissible notice; never as an error.
func (c *Channel) SetStateHandler(fn func(State)) {
	c.stateMu.Lock()
	c.onState = fn
	c.stateMu.Unlock()
}

// Connect starts the connection loop. It is a no-op while the channel is
// already connecting, connected, or reconnecting, so overlapping calls
// cannot create duplicate transports. Connection and reconnection proceed
// in the background; observe progress via SetStateHandler.
func (c *Channel) Connect() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return
	case StateDisconnected, StateFaulted:
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.state = StateConnecting
	c.mu.Unlock()

	c.notify(StateConnecting)
	go c.run(ctx, done)
}

// Disconnect tears down the transport and cancels any in-flight reconnect
// backoff. It blocks until the connection loop has exited, so no event is
// dispatched after it returns. The Subscription Set is retained for a
// future Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	c.transition(StateDisconnected)
}

// Subscribe adds a device to the Subscription Set. If connected, the
// server command is sent immediately; otherwise it takes effect on the
// next successful connect via full replay.
func (c *Channel) Subscribe(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	c.subs[deviceID] = struct{}{}
	conn, connected := c.conn, c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return conn.Send(ctx, Command{Action: ActionSubscribe, DeviceID: deviceID})
}

// Unsubscribe removes a device from the Subscription Set, sending the
// server command immediately when connected.
func (c *Channel) Unsubscribe(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	delete(c.subs, deviceID)
	conn, connected := c.conn, c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return conn.Send(ctx, Command{Action: ActionUnsubscribe, DeviceID: deviceID})
}

// Subscriptions returns a snapshot of the Subscription Set.
func (c *Channel) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

// On registers a listener for one event kind and returns its handle.
func (c *Channel) On(kind EventKind, fn Listener) Subscription {
	c.listenerMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[kind] = append(c.listeners[kind], listenerEntry{id: id, fn: fn})
	c.listenerMu.Unlock()
	return Subscription{ch: c, kind: kind, id: id}
}

func (c *Channel) removeListener(kind EventKind, id uint64) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	entries := c.listeners[kind]
	for i, e := range entries {
		if e.id == id {
			c.listeners[kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// run is the connection loop: dial, replay subscriptions, read events,
// back off on failure. It exits only on context cancellation or when the
// configured attempt limit is exhausted.
func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	failures := 0

	for {
		conn, err := c.transport.Dial(ctx, c.tokens())
		if err == nil {
			err = c.replay(ctx, conn)
			if err != nil {
				conn.Close()
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
				c.log.Error("reconnect attempts exhausted", "attempts", failures)
				c.transition(StateFaulted)
				return
			}

			delay := c.backoffDelay(attempt)
			attempt++
			c.log.Warn("connection attempt failed", "error", err, "retry_in", delay)
			c.transition(StateReconnecting)

			select {
			case <-ctx.Done():
				return
			case <-c.after(delay):
			}
			continue
		}

		// Connected: replay done, counters reset, dispatch until the link drops.
		attempt = 0
		failures = 0
		c.log.Info("connected", "subscriptions", len(c.Subscriptions()))

		readErr := c.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.log.Warn("connection lost", "error", readErr)
		c.transition(StateReconnecting)
	}
}

// replay reissues the full Subscription Set on a fresh connection, then
// atomically publishes the connection and the Connected state. The loop
// re-diffs until the sent commands match the set, so subscriptions changed
// mid-replay are neither lost nor leaked.
func (c *Channel) replay(ctx context.Context, conn Conn) error {
	sent := make(map[string]struct{})

	for {
		c.mu.Lock()
		var toSub, toUnsub []string
		for id := range c.subs {
			if _, ok := sent[id]; !ok {
				toSub = append(toSub, id)
			}
		}
		for id := range sent {
			if _, ok := c.subs[id]; !ok {
				toUnsub = append(toUnsub, id)
			}
		}
		if len(toSub) == 0 && len(toUnsub) == 0 {
			c.conn = conn
			c.state = StateConnected
			c.mu.Unlock()
			c.notify(StateConnected)
			return nil
		}
		c.mu.Unlock()

		for _, id := range toSub {
			if err := conn.Send(ctx, Command{Action: ActionSubscribe, DeviceID: id}); err != nil {
				return err
			}
			sent[id] = struct{}{}
		}
		for _, id := range toUnsub {
			if err := conn.Send(ctx, Command{Action: ActionUnsubscribe, DeviceID: id}); err != nil {
				return err
			}
			delete(sent, id)
		}
	}
}

// readLoop receives and dispatches events until the connection fails.
func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		c.dispatch(ev)
	}
}

// dispatch fans an event out to all listeners registered for its kind,
// synchronously, in registration order.
func (c *Channel) dispatch(ev Event) {
	c.listenerMu.RLock()
	entries := make([]listenerEntry, len(c.listeners[ev.Kind]))
	copy(entries, c.listeners[ev.Kind])
	c.listenerMu.RUnlock()

	for _, e := range entries {
		e.fn(ev)
	}
}

// backoffDelay computes min(initial << attempt, max). Attempt growth is
// unbounded; the delay saturates at the cap instead.
func (c *Channel) backoffDelay(attempt int) time.Duration {
	base := c.cfg.GetInitialDelay()
	maxDelay := c.cfg.GetMaxDelay()

	const maxShift = 30
	if attempt > maxShift {
		return maxDelay
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// transition moves to a new state and notifies the state handler.
func (c *Channel) transition(to State) {
	c.mu.Lock()
	changed := c.state != to
	c.state = to
	c.mu.Unlock()
	if changed {
		c.notify(to)
	}
}

// notify invokes the state handler outside all channel locks.
func (c *Channel) notify(state State) {
	c.stateMu.RLock()
	fn := c.onState
	c.stateMu.RUnlock()
	if fn != nil {
		fn(state)
	}
}
