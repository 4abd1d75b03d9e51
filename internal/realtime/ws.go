package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
)

// Frame types on the websocket wire. Subscription commands travel as their
// action name; events arrive wrapped in an event frame.
const (
	wsTypeEvent = "event"
	wsTypePong  = "pong"
)

// wsFrame is the wire format shared with the measurement hub.
type wsFrame struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSTransport dials websocket connections to the measurement hub.
type WSTransport struct {
	url          string
	pingInterval time.Duration
	pongTimeout  time.Duration
	dialer       *websocket.Dialer
}

// NewWSTransport creates the websocket transport from realtime configuration.
func NewWSTransport(cfg config.RealtimeConfig) *WSTransport {
	return &WSTransport{
		url:          cfg.URL,
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeout) * time.Second,
		dialer:       websocket.DefaultDialer,
	}
}

// Dial performs one connection attempt authenticated by the bearer token.
func (t *WSTransport) Dial(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: handshake rejected (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", t.url, err)
	}

	wc := &wsConn{
		conn:         conn,
		pingInterval: t.pingInterval,
		pongTimeout:  t.pongTimeout,
		closed:       make(chan struct{}),
	}

	wait := t.pingInterval + t.pongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	go wc.pingLoop()
	return wc, nil
}

// wsConn is a single live websocket connection.
type wsConn struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	pongTimeout  time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Send writes a subscription command frame.
func (c *wsConn) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
	if err := c.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// Receive blocks until the next event frame arrives. Non-event frames
// (pongs, acknowledgements) are skipped. A read failure means the
// connection is dead; the caller reconnects.
func (c *wsConn) Receive(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
		}
		if frame.Type != wsTypeEvent {
			continue
		}

		ev := Event{
			Kind:     EventKind(frame.EventType),
			DeviceID: frame.DeviceID,
			Payload:  frame.Payload,
		}
		if ts, err := time.Parse(time.RFC3339, frame.Timestamp); err == nil {
			ev.Timestamp = ts
		}
		return ev, nil
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		//nolint:errcheck // Best-effort close message
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}

// pingLoop keeps the connection alive with protocol-level pings until it
// is closed. A ping write failure ends the loop; the read side observes
// the dead connection and triggers reconnection.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
