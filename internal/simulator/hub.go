package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/realtime"
)

// Hub constants.
const (
	// hubSendBufferSize is the per-client outbound message buffer size.
	hubSendBufferSize = 256

	hubPingInterval = 30 * time.Second
	hubPongTimeout  = 10 * time.Second
	hubMaxMessage   = 4096
)

// hubFrame is an outbound event frame. The shape matches what the
// dashboard's websocket transport decodes.
type hubFrame struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// hubCommand is an inbound subscription command frame.
type hubCommand struct {
	Action   string `json:"type"`
	DeviceID string `json:"device_id"`
}

// Hub manages websocket connections and broadcasts device events to
// subscribed clients. Each client carries its own per-device
// subscription set; a fresh connection starts with an empty set and the
// client replays its subscriptions after connecting.
type Hub struct {
	log     *logging.Logger
	clients map[*hubClient]struct{}
	mu      sync.RWMutex
}

// hubClient is one connected websocket client.
type hubClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	devices map[string]struct{}
	mu      sync.RWMutex
}

// NewHub creates a websocket hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to the device.
func (h *Hub) Broadcast(kind realtime.EventKind, deviceID string, payload any) {
	frame := hubFrame{
		Type:      "event",
		EventType: string(kind),
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("failed to marshal broadcast frame", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending.
	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.isSubscribed(deviceID) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.log.Debug("broadcast sent", "kind", kind, "device_id", deviceID, "recipients", sent)
	}
}

// serve attaches an upgraded connection to the hub and runs its pumps.
func (h *Hub) serve(conn *websocket.Conn, userID string) {
	client := &hubClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, hubSendBufferSize),
		userID:  userID,
		devices: make(map[string]struct{}),
	}

	h.register(client)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(client *hubClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client connected", "user_id", client.userID, "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that successfully
// removes the client from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.log.Debug("client disconnected", "user_id", client.userID, "clients", h.ClientCount())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

// readPump reads subscription commands from the connection.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(hubMaxMessage)
	wait := hubPingInterval + hubPongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	c.conn.SetPingHandler(func(data string) error {
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(hubPongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleMessage(message)
	}
}

// writePump writes outbound frames and keepalive pings.
func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(hubPongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(hubPongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an inbound command frame.
func (c *hubClient) handleMessage(data []byte) {
	var cmd hubCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.hub.log.Warn("invalid command frame", "error", err)
		return
	}
	if cmd.DeviceID == "" {
		return
	}

	switch cmd.Action {
	case "SubscribeToDevice":
		c.mu.Lock()
		c.devices[cmd.DeviceID] = struct{}{}
		c.mu.Unlock()
		c.hub.log.Debug("subscribed", "user_id", c.userID, "device_id", cmd.DeviceID)
	case "UnsubscribeFromDevice":
		c.mu.Lock()
		delete(c.devices, cmd.DeviceID)
		c.mu.Unlock()
		c.hub.log.Debug("unsubscribed", "user_id", c.userID, "device_id", cmd.DeviceID)
	default:
		c.hub.log.Warn("unknown command", "type", cmd.Action)
	}
}

func (c *hubClient) isSubscribed(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.devices[deviceID]
	return ok
}

// trySend delivers data to the client's send channel, absorbing closed
// channels (client disconnected during broadcast) and full buffers
// (slow client).
func (c *hubClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
