// Package queueconn is the cloud-to-device queue TransportConnection
// adapter (spec §4.7b), modeling the receive side of an AMQP-flavored
// queue protocol. Grounded on the lock-token / disposition model described
// in the Azure Service Bus queue and AMQP receiver reference files
// (_examples/other_examples/3bcc110a_..._azure-service-bus-go-queue.go.go,
// 6a789433_..._go-amqp-receiver.go.go): inbound messages carry a
// lock-token, and the application's Complete/Abandon/Reject verdict is
// sent back as one of three disposition frames. This corpus's queue
// protocol is D2C/C2D-split: there is no outbound publish path here (that
// is the pub/sub adapter's job), matching the source protocol's own split.
package queueconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	transport "github.com/meshlink-io/devicetransport"
	"github.com/meshlink-io/devicetransport/credential"
	"github.com/meshlink-io/devicetransport/internal/wireframe"
)

type dispositionVerb string

const (
	dispositionComplete dispositionVerb = "complete"
	dispositionAbandon  dispositionVerb = "abandon"
	dispositionReject   dispositionVerb = "reject"
)

// wireKind discriminates the two frame shapes the queue's read side
// delivers: an inbound message, or an asynchronous control notification
// such as an unauthorized-access rejection. Defaults to wireKindMessage
// when absent so existing message-only payloads still parse.
type wireKind string

const (
	wireKindMessage      wireKind = "message"
	wireKindUnauthorized wireKind = "unauthorized"
	wireKindSubscribe    wireKind = "subscribe"
)

type wireMessage struct {
	Kind          wireKind          `json:"kind,omitempty"`
	MessageID     string            `json:"message_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	LockToken     string            `json:"lock_token"`
	ExpiryMs      int64             `json:"expiry_ms,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Body          []byte            `json:"body"`
	Error         string            `json:"error,omitempty"`
	DeviceID      string            `json:"device_id,omitempty"`
	ModuleID      string            `json:"module_id,omitempty"`
}

type dispositionFrame struct {
	LockToken string          `json:"lock_token"`
	Verb      dispositionVerb `json:"verb"`
}

// Connection implements transport.TransportConnection for the queue
// protocol family (transport.Queue, transport.QueueWS).
type Connection struct {
	cfg      *transport.EngineConfig
	protocol transport.Protocol
	id       string

	mu     sync.Mutex
	listener transport.Listener
	conn     net.Conn
	closed   bool

	writeMu sync.Mutex
}

// New builds a queueconn.Connection for cfg.Protocol, which must be
// transport.Queue or transport.QueueWS. It satisfies
// transport.ConnectionFactory.
func New(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
	if cfg.Protocol != transport.Queue && cfg.Protocol != transport.QueueWS {
		return nil, fmt.Errorf("queueconn: unsupported protocol %s", cfg.Protocol)
	}
	return &Connection{cfg: cfg, protocol: cfg.Protocol, id: uuid.New().String()}, nil
}

func (c *Connection) SetListener(l transport.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Connection) GetConnectionID() string       { return c.id }
func (c *Connection) GetProtocol() transport.Protocol { return c.protocol }

func (c *Connection) Open(ctx context.Context, configs []*transport.EngineConfig) error {
	addr := fmt.Sprintf("%s:5671", queueHost(c.cfg))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	var dialer net.Dialer
	var conn net.Conn
	dial := func() error {
		d, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = d
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		return transport.NewTransportError(err, true)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	l := c.listener
	c.mu.Unlock()

	go c.readPump()

	_, deviceID, moduleID := resolveIdentity(c.cfg)
	sub, err := json.Marshal(wireMessage{Kind: wireKindSubscribe, DeviceID: deviceID, ModuleID: moduleID})
	if err != nil {
		return err
	}
	if err := wireframe.WriteLengthPrefixed(conn, sub); err != nil {
		return transport.NewTransportError(err, true)
	}

	if l != nil {
		l.OnConnectionEstablished(c.id)
	}
	return nil
}

func queueHost(cfg *transport.EngineConfig) string {
	host, _, _ := resolveIdentity(cfg)
	return host
}

// resolveIdentity derives the queue host and device/module identity for
// cfg, matching httpconn/mqttconn's IotHubConnectionString-takes-priority
// convention: a parsed connection string's HostName/DeviceId/ModuleId win
// over the bare EngineConfig fields when supplied.
func resolveIdentity(cfg *transport.EngineConfig) (host, deviceID, moduleID string) {
	deviceID, moduleID = cfg.DeviceID, cfg.ModuleID
	host = "queue.local"
	if deviceID != "" {
		host = deviceID + ".queue.local"
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
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wireframe.ReadLengthPrefixed(conn)
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

		var wm wireMessage
		if err := json.Unmarshal(data, &wm); err != nil {
			continue
		}

		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()
		if l == nil {
			continue
		}

		if wm.Kind == wireKindUnauthorized {
			te := transport.NewTransportError(fmt.Errorf("queueconn: %s", wm.Error), false)
			te.Unauthorized = true
			_ = c.Close()
			l.OnConnectionLost(te, c.id)
			return
		}

		msg, err := transport.NewMessage(wm.Body, wm.MessageID)
		if err != nil {
			l.OnMessageReceived(nil, err)
			continue
		}
		if wm.CorrelationID != "" {
			if err := msg.SetCorrelationID(wm.CorrelationID); err != nil {
				l.OnMessageReceived(nil, err)
				continue
			}
		}
		if err := msg.SetLockToken(wm.LockToken); err != nil {
			l.OnMessageReceived(nil, err)
			continue
		}
		msg.ExpiryMs = wm.ExpiryMs
		for k, v := range wm.Properties {
			msg.SetProperty(k, v)
		}
		l.OnMessageReceived(msg, nil)
	}
}

// SendMessage always fails: this protocol family is cloud-to-device
// receive only in this corpus, matching the source protocol's D2C/C2D
// split (SPEC_FULL §4.7b).
func (c *Connection) SendMessage(ctx context.Context, msg *transport.Message) (transport.StatusCode, error) {
	return transport.StatusError, fmt.Errorf("queueconn: protocol %s does not support device-to-cloud publish", c.protocol)
}

// SendMessageResult sends the application's verdict as the matching
// disposition frame, keyed by the message's lock token.
func (c *Connection) SendMessageResult(ctx context.Context, msg *transport.Message, result transport.AckDisposition) error {
	verb := dispositionComplete
	switch result {
	case transport.Abandon:
		verb = dispositionAbandon
	case transport.Reject:
		verb = dispositionReject
	}

	data, err := json.Marshal(dispositionFrame{LockToken: msg.LockToken, Verb: verb})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("queueconn: not connected")
	}
	return wireframe.WriteLengthPrefixed(conn, data)
}

// ReceiveMessage always returns (nil, nil): this adapter delivers inbound
// messages exclusively through the Listener via the read pump.
func (c *Connection) ReceiveMessage(ctx context.Context) (*transport.Message, error) {
	return nil, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
