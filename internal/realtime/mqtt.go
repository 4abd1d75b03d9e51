package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
)

// mqttConnectTimeout bounds the broker handshake.
const mqttConnectTimeout = 10 * time.Second

// mqttCommandTimeout bounds subscribe/unsubscribe acknowledgements.
const mqttCommandTimeout = 5 * time.Second

// mqttEventBuffer is the inbound event buffer size per connection.
const mqttEventBuffer = 256

// deviceEventTopic is the topic pattern carrying a device's event stream.
func deviceEventTopic(deviceID string) string {
	return fmt.Sprintf("iot/devices/%s/events", deviceID)
}

// MQTTTransport dials broker connections as an alternative to the
// websocket hub. Sites that already run a broker for device ingest can
// point the console at it directly.
//
// Native auto-reconnect is deliberately disabled: the Channel owns the
// backoff policy and the subscription replay contract, layered above
// whatever the transport offers.
type MQTTTransport struct {
	url      string
	clientID string
	qos      byte
}

// NewMQTTTransport creates the MQTT transport from realtime configuration.
func NewMQTTTransport(cfg config.RealtimeConfig) *MQTTTransport {
	return &MQTTTransport{
		url:      cfg.URL,
		clientID: cfg.MQTT.ClientID,
		qos:      byte(cfg.MQTT.QoS),
	}
}

// Dial performs one broker connection attempt. The session access token
// is presented as the MQTT password; the broker's auth plugin validates
// it against the identity service.
func (t *MQTTTransport) Dial(ctx context.Context, token string) (Conn, error) {
	mc := &mqttConn{
		qos:    t.qos,
		events: make(chan Event, mqttEventBuffer),
		lost:   make(chan error, 1),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(t.url).
		SetClientID(t.clientID + "-" + uuid.NewString()[:8]).
		SetUsername("console").
		SetPassword(token).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			select {
			case mc.lost <- err:
			default:
			}
		})

	client := pahomqtt.NewClient(opts)
	mc.client = client

	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("realtime: broker connect timeout after %v", mqttConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("realtime: broker connect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		client.Disconnect(0)
		return nil, err
	}

	return mc, nil
}

// mqttConn is a single live broker connection.
type mqttConn struct {
	client pahomqtt.Client
	qos    byte

	events chan Event
	lost   chan error

	closeOnce sync.Once
}

// Send maps a hub subscription command onto broker topic operations.
func (c *mqttConn) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var tok pahomqtt.Token
	switch cmd.Action {
	case ActionSubscribe:
		tok = c.client.Subscribe(deviceEventTopic(cmd.DeviceID), c.qos, c.handleMessage)
	case ActionUnsubscribe:
		tok = c.client.Unsubscribe(deviceEventTopic(cmd.DeviceID))
	default:
		return fmt.Errorf("%w: unknown command %q", ErrBadMessage, cmd.Action)
	}

	if !tok.WaitTimeout(mqttCommandTimeout) {
		return fmt.Errorf("%w: command timeout", ErrConnectionClosed)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// handleMessage decodes a broker message into an Event. Malformed
// payloads are dropped; a full buffer drops the oldest pending event
// rather than blocking the paho delivery goroutine.
func (c *mqttConn) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	var frame wsFrame
	if err := json.Unmarshal(msg.Payload(), &frame); err != nil {
		return
	}

	ev := Event{
		Kind:     EventKind(frame.EventType),
		DeviceID: frame.DeviceID,
		Payload:  frame.Payload,
	}
	if ts, err := time.Parse(time.RFC3339, frame.Timestamp); err == nil {
		ev.Timestamp = ts
	}

	select {
	case c.events <- ev:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}

// Receive blocks until the next event arrives or the connection dies.
func (c *mqttConn) Receive(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case err := <-c.lost:
		return Event{}, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	case ev := <-c.events:
		return ev, nil
	}
}

// Close disconnects from the broker. Safe to call more than once.
func (c *mqttConn) Close() error {
	c.closeOnce.Do(func() {
		c.client.Disconnect(250)
		select {
		case c.lost <- ErrConnectionClosed:
		default:
		}
	})
	return nil
}
