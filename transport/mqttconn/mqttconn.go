// Package mqttconn is the pub/sub TransportConnection adapter (spec
// §4.7b): a simplified publish/subscribe wire protocol carried either over
// a raw TLS socket (transport.PubSub) or a WebSocket
// (transport.PubSubWS), grounded on the teacher's
// NewWebsocketClient/ClientTransport pair -- a read-pump goroutine feeding
// frames to a listener, torn down by Close(). The framing here is a
// minimal JSON envelope, not full MQTT wire encoding: reproducing MQTT's
// binary framing is out of this exercise's scope (spec §1 treats the wire
// protocols themselves as external collaborators), but the adapter still
// exercises the same third-party dependency (gorilla/websocket) and the
// same connection-loss-detection shape a real MQTT client needs.
package mqttconn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	transport "github.com/meshlink-io/devicetransport"
	"github.com/meshlink-io/devicetransport/credential"
	"github.com/meshlink-io/devicetransport/internal/wireframe"
)

// frameKind tags the minimal wire envelope exchanged over the socket.
type frameKind string

const (
	frameConnect      frameKind = "connect"
	framePublish      frameKind = "publish"
	framePublishAck   frameKind = "puback"
	frameDeliver      frameKind = "deliver"
	frameUnauthorized frameKind = "unauthorized"
)

// errUnauthorized is the sentinel frame.Error value a broker uses to mark a
// framePublishAck as rejected for credential reasons (as opposed to a
// transient publish failure), mirroring the frameUnauthorized connection-
// level signal below.
const errUnauthorized = "unauthorized"

type frame struct {
	Kind          frameKind         `json:"kind"`
	MessageID     string            `json:"message_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	To            string            `json:"to,omitempty"`
	ExpiryMs      int64             `json:"expiry_ms,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	Error         string            `json:"error,omitempty"`
	DeviceID      string            `json:"device_id,omitempty"`
	ModuleID      string            `json:"module_id,omitempty"`
}

// Connection implements transport.TransportConnection for the pub/sub
// protocol family.
type Connection struct {
	cfg      *transport.EngineConfig
	protocol transport.Protocol
	id       string

	mu       sync.Mutex
	listener transport.Listener
	closed   bool

	ws  *websocket.Conn
	raw net.Conn

	writeMu sync.Mutex
}

// New builds a mqttconn.Connection for cfg.Protocol, which must be
// transport.PubSub or transport.PubSubWS. It satisfies
// transport.ConnectionFactory.
func New(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
	if cfg.Protocol != transport.PubSub && cfg.Protocol != transport.PubSubWS {
		return nil, fmt.Errorf("mqttconn: unsupported protocol %s", cfg.Protocol)
	}
	return &Connection{cfg: cfg, protocol: cfg.Protocol, id: uuid.New().String()}, nil
}

func (c *Connection) SetListener(l transport.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Connection) GetConnectionID() string   { return c.id }
func (c *Connection) GetProtocol() transport.Protocol { return c.protocol }

// Open dials the broker, retrying the initial handshake with an
// exponential backoff (github.com/cenkalti/backoff) distinct from, and
// nested inside, the engine's own packet/reconnect RetryPolicy (spec
// §4.7b): this backoff only governs "is the socket up", not packet
// delivery semantics.
func (c *Connection) Open(ctx context.Context, configs []*transport.EngineConfig) error {
	addr := brokerAddress(c.cfg)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	dial := func() error {
		switch c.protocol {
		case transport.PubSubWS:
			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			ws, _, err := dialer.DialContext(ctx, addr, nil)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.ws = ws
			c.closed = false
			c.mu.Unlock()
			return nil
		default: // transport.PubSub
			d := &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.raw = conn
			c.closed = false
			c.mu.Unlock()
			return nil
		}
	}

	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		return transport.NewTransportError(err, true)
	}

	go c.readPump()

	_, deviceID, moduleID := resolveIdentity(c.cfg)
	if err := c.writeFrame(&frame{Kind: frameConnect, DeviceID: deviceID, ModuleID: moduleID}); err != nil {
		return transport.NewTransportError(err, true)
	}

	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnConnectionEstablished(c.id)
	}
	return nil
}

func brokerAddress(cfg *transport.EngineConfig) string {
	host, _, _ := resolveIdentity(cfg)
	if cfg.Protocol == transport.PubSubWS {
		return fmt.Sprintf("wss://%s/mqtt", host)
	}
	return fmt.Sprintf("%s:8883", host)
}

// resolveIdentity derives the broker host and device/module identity for
// cfg, the same IotHubConnectionString-takes-priority convention httpconn
// uses: a connection string's HostName/DeviceId/ModuleId win over the bare
// EngineConfig fields when supplied.
func resolveIdentity(cfg *transport.EngineConfig) (host, deviceID, moduleID string) {
	deviceID, moduleID = cfg.DeviceID, cfg.ModuleID
	host = "broker.local"
	if deviceID != "" {
		host = deviceID + ".broker.local"
	}

	if cfg.IotHubConnectionString == "" {
		return host, deviceID, moduleID
	}
	info, err := credential.ParseConnectionString(cfg.IotHubConnectionString)
	if err != nil {
		return host, deviceID, moduleID
	}
	if info.HostName != "" {
		host = info.HostName
	}
	if info.DeviceID != "" {
		deviceID = info.DeviceID
	}
	if info.ModuleID != "" {
		moduleID = info.ModuleID
	}
	return host, deviceID, moduleID
}

func (c *Connection) readPump() {
	for {
		data, err := c.readFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			l := c.listener
			id := c.id
			c.mu.Unlock()
			if !closed && l != nil {
				l.OnConnectionLost(transport.NewTransportError(err, true), id)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		c.dispatch(&f)
	}
}

func (c *Connection) dispatch(f *frame) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}

	switch f.Kind {
	case framePublishAck:
		msg, _ := transport.NewMessage([]byte{}, f.MessageID)
		var ackErr error
		if f.Error == errUnauthorized {
			te := transport.NewTransportError(fmt.Errorf("mqttconn: %s", f.Error), false)
			te.Unauthorized = true
			ackErr = te
		} else if f.Error != "" {
			ackErr = fmt.Errorf("mqttconn: %s", f.Error)
		}
		l.OnMessageSent(msg, ackErr)
	case frameDeliver:
		msg, err := frameToMessage(f)
		l.OnMessageReceived(msg, err)
	case frameUnauthorized:
		te := transport.NewTransportError(fmt.Errorf("mqttconn: %s", f.Error), false)
		te.Unauthorized = true
		_ = c.Close()
		l.OnConnectionLost(te, c.id)
	}
}

func frameToMessage(f *frame) (*transport.Message, error) {
	msg, err := transport.NewMessage(f.Body, f.MessageID)
	if err != nil {
		return nil, err
	}
	if f.CorrelationID != "" {
		if err := msg.SetCorrelationID(f.CorrelationID); err != nil {
			return nil, err
		}
	}
	msg.To = f.To
	msg.ExpiryMs = f.ExpiryMs
	for k, v := range f.Properties {
		msg.SetProperty(k, v)
	}
	return msg, nil
}

func (c *Connection) readFrame() ([]byte, error) {
	c.mu.Lock()
	ws, raw := c.ws, c.raw
	c.mu.Unlock()

	if ws != nil {
		_, data, err := ws.ReadMessage()
		return data, err
	}
	if raw != nil {
		return wireframe.ReadLengthPrefixed(raw)
	}
	return nil, fmt.Errorf("mqttconn: not connected")
}

// SendMessage publishes msg. The broker's PUBACK arrives later through the
// read pump as a framePublishAck, which is translated into OnMessageSent
// -- publishing itself never blocks on the ack (spec §4.2: ack-expecting
// sends stay in-flight until the listener fires).
func (c *Connection) SendMessage(ctx context.Context, msg *transport.Message) (transport.StatusCode, error) {
	props := make(map[string]string)
	for _, p := range msg.Properties() {
		props[p.Name] = p.Value
	}
	f := frame{
		Kind:          framePublish,
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		To:            msg.To,
		ExpiryMs:      msg.ExpiryMs,
		Properties:    props,
		Body:          msg.Body(),
	}
	if err := c.writeFrame(&f); err != nil {
		return transport.StatusError, err
	}
	return transport.OK, nil
}

// SendMessageResult is a no-op for pub/sub: MQTT-style brokers do not
// accept an application-level disposition for inbound publishes the way a
// queue protocol does (acknowledgement is at the QoS layer, handled
// transparently below this adapter).
func (c *Connection) SendMessageResult(ctx context.Context, msg *transport.Message, result transport.AckDisposition) error {
	return nil
}

// ReceiveMessage always returns (nil, nil): pub/sub delivers inbound
// messages exclusively through the Listener via the read pump.
func (c *Connection) ReceiveMessage(ctx context.Context) (*transport.Message, error) {
	return nil, nil
}

func (c *Connection) writeFrame(f *frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	ws, raw := c.ws, c.raw
	c.mu.Unlock()

	if ws != nil {
		return ws.WriteMessage(websocket.TextMessage, data)
	}
	if raw != nil {
		return wireframe.WriteLengthPrefixed(raw, data)
	}
	return fmt.Errorf("mqttconn: not connected")
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws, raw := c.ws, c.raw
	c.ws, c.raw = nil, nil
	c.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	if raw != nil {
		return raw.Close()
	}
	return nil
}
