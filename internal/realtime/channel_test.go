package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
)

// fakeConn is a scriptable hub connection. It records every command and
// tracks the server-side subscription view the commands would produce.
type fakeConn struct {
	mu     sync.Mutex
	cmds   []Command
	server map[string]struct{}

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		server: make(map[string]struct{}),
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	switch cmd.Action {
	case ActionSubscribe:
		c.server[cmd.DeviceID] = struct{}{}
	case ActionUnsubscribe:
		delete(c.server, cmd.DeviceID)
	}
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.closed:
		return Event{}, ErrConnectionClosed
	case ev := <-c.events:
		return ev, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) serverSubs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.server))
	for id := range c.server {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *fakeConn) commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.cmds))
	copy(out, c.cmds)
	return out
}

// fakeTransport hands out fakeConns, optionally failing the first
// failFirst dial attempts.
type fakeTransport struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failFirst int
	dials     int
	dialed    chan *fakeConn
}

func newFakeTransport(failFirst int) *fakeTransport {
	return &fakeTransport{
		failFirst: failFirst,
		dialed:    make(chan *fakeConn, 16),
	}
}

func (t *fakeTransport) Dial(_ context.Context, _ string) (Conn, error) {
	t.mu.Lock()
	t.dials++
	if t.dials <= t.failFirst {
		t.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	t.dialed <- conn
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func testChannel(t *testing.T, transport Transport, cfg config.ReconnectConfig) *Channel {
	t.Helper()
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 1
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30
	}
	ch := NewChannel(transport, cfg, func() string { return "test-token" }, logging.Default())
	// Skip real backoff waits in tests
	ch.after = func(time.Duration) <-chan time.Time {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	t.Cleanup(ch.Disconnect)
	return ch
}

func waitForState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel state = %v, want %v", ch.State(), want)
}

func awaitConn(t *testing.T, transport *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case conn := <-transport.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func TestConnect_ReplaysDeferredSubscriptions(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})
	ctx := context.Background()

	// Mutations while disconnected are deferred, not errors.
	if err := ch.Subscribe(ctx, "d1"); err != nil {
		t.Fatalf("Subscribe() while disconnected: %v", err)
	}
	if err := ch.Subscribe(ctx, "d2"); err != nil {
		t.Fatalf("Subscribe() while disconnected: %v", err)
	}
	if err := ch.Unsubscribe(ctx, "d2"); err != nil {
		t.Fatalf("Unsubscribe() while disconnected: %v", err)
	}

	ch.Connect()
	conn := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	got := conn.serverSubs()
	if len(got) != 1 || got[0] != "d1" {
		t.Errorf("server subscriptions after connect = %v, want [d1]", got)
	}
}

func TestConnect_Idempotent(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})

	ch.Connect()
	awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	ch.Connect()
	ch.Connect()
	time.Sleep(50 * time.Millisecond)

	if n := transport.dialCount(); n != 1 {
		t.Errorf("dial count = %d, want 1 (overlapping Connect must be a no-op)", n)
	}
}

func TestReconnect_RestoresSubscriptionSet(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})
	ctx := context.Background()

	ch.Connect()
	first := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	if err := ch.Subscribe(ctx, "d1"); err != nil {
		t.Fatalf("Subscribe() while connected: %v", err)
	}
	if err := ch.Subscribe(ctx, "d2"); err != nil {
		t.Fatalf("Subscribe() while connected: %v", err)
	}
	if err := ch.Unsubscribe(ctx, "d2"); err != nil {
		t.Fatalf("Unsubscribe() while connected: %v", err)
	}

	// Drop the transport; the channel must reconnect and replay.
	first.Close()
	second := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	got := second.serverSubs()
	if len(got) != 1 || got[0] != "d1" {
		t.Errorf("server subscriptions after reconnect = %v, want [d1]", got)
	}

	// Replay happens before events flow: the subscribe command must be
	// the first thing the new connection saw.
	cmds := second.commands()
	if len(cmds) == 0 || cmds[0].Action != ActionSubscribe || cmds[0].DeviceID != "d1" {
		t.Errorf("first command on reconnect = %+v, want subscribe d1", cmds)
	}
}

func TestReconnect_EventDeliveredAfterReplay(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var received []Event
	ch.On(EventThresholdExceeded, func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	if err := ch.Subscribe(ctx, "d1"); err != nil {
		t.Fatalf("Subscribe(): %v", err)
	}
	ch.Connect()
	first := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	first.Close()
	second := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	second.events <- Event{Kind: EventThresholdExceeded, DeviceID: "d1"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not delivered after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := second.serverSubs(); len(got) != 1 || got[0] != "d1" {
		t.Errorf("subscription not replayed before event delivery: %v", got)
	}
}

func TestDispatch_RegistrationOrderAndRemoval(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})

	var mu sync.Mutex
	var order []string
	subA := ch.On(EventMeasurementAdded, func(Event) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	})
	ch.On(EventMeasurementAdded, func(Event) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	})
	ch.On(EventMeasurementDeleted, func(Event) {
		mu.Lock()
		order = append(order, "other-kind")
		mu.Unlock()
	})

	ch.dispatch(Event{Kind: EventMeasurementAdded})

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("dispatch order = %v, want [a b]", got)
	}

	subA.Remove()
	ch.dispatch(Event{Kind: EventMeasurementAdded})

	mu.Lock()
	got = append([]string(nil), order...)
	mu.Unlock()
	if len(got) != 3 || got[2] != "b" {
		t.Errorf("after removal dispatch = %v, removed listener must not fire", got)
	}
}

func TestReconnect_BackoffThenSuccess(t *testing.T) {
	transport := newFakeTransport(3)
	ch := testChannel(t, transport, config.ReconnectConfig{})

	ch.Connect()
	awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	if n := transport.dialCount(); n != 4 {
		t.Errorf("dial count = %d, want 4 (3 failures + 1 success)", n)
	}
}

func TestReconnect_FaultedAfterMaxAttempts(t *testing.T) {
	transport := newFakeTransport(100)
	ch := testChannel(t, transport, config.ReconnectConfig{MaxAttempts: 3})

	ch.Connect()
	waitForState(t, ch, StateFaulted)

	if n := transport.dialCount(); n != 3 {
		t.Errorf("dial count = %d, want 3", n)
	}
}

func TestDisconnect_KeepsSubscriptionSet(t *testing.T) {
	transport := newFakeTransport(0)
	ch := testChannel(t, transport, config.ReconnectConfig{})
	ctx := context.Background()

	if err := ch.Subscribe(ctx, "d1"); err != nil {
		t.Fatalf("Subscribe(): %v", err)
	}
	ch.Connect()
	awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	ch.Disconnect()
	if ch.State() != StateDisconnected {
		t.Errorf("state after Disconnect = %v", ch.State())
	}

	subs := ch.Subscriptions()
	if len(subs) != 1 || subs[0] != "d1" {
		t.Errorf("Subscription Set after Disconnect = %v, want [d1]", subs)
	}

	// Reconnecting replays the retained set.
	ch.Connect()
	second := awaitConn(t, transport)
	waitForState(t, ch, StateConnected)
	if got := second.serverSubs(); len(got) != 1 || got[0] != "d1" {
		t.Errorf("server subscriptions after re-connect = %v, want [d1]", got)
	}
}

func TestStateHandler_ObservesTransitions(t *testing.T) {
	transport := newFakeTransport(1)
	ch := testChannel(t, transport, config.ReconnectConfig{})

	var mu sync.Mutex
	var states []State
	ch.SetStateHandler(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ch.Connect()
	awaitConn(t, transport)
	waitForState(t, ch, StateConnected)

	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()

	want := []State{StateConnecting, StateReconnecting, StateConnected}
	if len(got) != len(want) {
		t.Fatalf("state transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state transitions = %v, want %v", got, want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	ch := NewChannel(nil, config.ReconnectConfig{InitialDelay: 1, MaxDelay: 30},
		func() string { return "" }, logging.Default())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // saturates at the cap
		{20, 30 * time.Second}, // attempt growth unbounded, delay capped
		{63, 30 * time.Second}, // shift overflow guard
	}

	for _, tt := range tests {
		if got := ch.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
