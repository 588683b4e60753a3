// Package loopback is an in-memory fake transport.TransportConnection used
// only by engine tests and cmd/devicesim (spec §8a): it lets a test or a
// demo script dictate SendMessage's outcome and fire Listener callbacks on
// demand, without any real socket. There is no third-party dependency to
// wire here -- a deterministic test double is, by construction,
// hand-rolled in every example repo that carries one.
package loopback

import (
	"context"
	"sync"

	"github.com/google/uuid"

	transport "github.com/meshlink-io/devicetransport"
)

// SendFunc lets a test script control what SendMessage returns for a given
// message. A nil SendFunc makes SendMessage always succeed with
// transport.OK.
type SendFunc func(msg *transport.Message) (transport.StatusCode, error)

// Connection is a scriptable transport.TransportConnection. Every exported
// field may be set before or after Open; reads and writes of the inbound
// queue and sent/result logs are synchronized.
type Connection struct {
	protocol transport.Protocol
	id       string

	// OpenErr, when non-nil, is returned by Open instead of succeeding.
	OpenErr error
	// Send overrides SendMessage's behavior; see SendFunc.
	Send SendFunc

	mu       sync.Mutex
	listener transport.Listener
	closed   bool
	opened   bool
	inbound  []*transport.Message

	Sent    []*transport.Message
	Results []ResultRecord
}

// ResultRecord captures one SendMessageResult call for test assertions.
type ResultRecord struct {
	Message *transport.Message
	Result  transport.AckDisposition
}

// New builds a loopback.Connection for cfg.Protocol. It satisfies
// transport.ConnectionFactory, so it can be dropped directly into
// EngineConfig.ConnectionFactory in tests and cmd/devicesim.
func New(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
	return &Connection{protocol: cfg.Protocol, id: uuid.New().String()}, nil
}

func (c *Connection) SetListener(l transport.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Connection) GetConnectionID() string    { return c.id }
func (c *Connection) GetProtocol() transport.Protocol { return c.protocol }

func (c *Connection) Open(ctx context.Context, configs []*transport.EngineConfig) error {
	if c.OpenErr != nil {
		err := c.OpenErr
		c.OpenErr = nil
		return err
	}
	c.mu.Lock()
	c.opened = true
	c.closed = false
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnConnectionEstablished(c.id)
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.opened = false
	c.mu.Unlock()
	return nil
}

// SendMessage records msg and defers to Send if set, otherwise succeeds
// unconditionally.
func (c *Connection) SendMessage(ctx context.Context, msg *transport.Message) (transport.StatusCode, error) {
	c.mu.Lock()
	c.Sent = append(c.Sent, msg)
	send := c.Send
	c.mu.Unlock()

	if send != nil {
		return send(msg)
	}
	return transport.OK, nil
}

// SendMessageResult records the disposition for test assertions.
func (c *Connection) SendMessageResult(ctx context.Context, msg *transport.Message, result transport.AckDisposition) error {
	c.mu.Lock()
	c.Results = append(c.Results, ResultRecord{Message: msg, Result: result})
	c.mu.Unlock()
	return nil
}

// ReceiveMessage pops one message previously queued with Enqueue, or
// returns (nil, nil) when the inbound queue is empty -- mirroring the
// request/response adapter's polling contract so loopback can stand in for
// any protocol in tests.
func (c *Connection) ReceiveMessage(ctx context.Context) (*transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return nil, nil
	}
	msg := c.inbound[0]
	c.inbound = c.inbound[1:]
	return msg, nil
}

// Enqueue makes msg available to a subsequent ReceiveMessage call.
func (c *Connection) Enqueue(msg *transport.Message) {
	c.mu.Lock()
	c.inbound = append(c.inbound, msg)
	c.mu.Unlock()
}

// DeliverViaListener pushes msg directly through the Listener, as the
// pub/sub and queue adapters do, instead of through ReceiveMessage's poll
// path.
func (c *Connection) DeliverViaListener(msg *transport.Message, err error) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnMessageReceived(msg, err)
	}
}

// SimulateDisconnect fires OnConnectionLost as if the underlying socket had
// dropped.
func (c *Connection) SimulateDisconnect(err error) {
	c.mu.Lock()
	l := c.listener
	id := c.id
	closed := c.closed
	c.mu.Unlock()
	if !closed && l != nil {
		l.OnConnectionLost(err, id)
	}
}

// IsOpen reports whether Open has succeeded and Close has not since been
// called.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}
