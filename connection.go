package transport

import "context"

// TransportConnection is the uniform façade the engine drives over any of
// the three wire protocols (spec §4.7). Concrete adapters live under
// transport/mqttconn, transport/queueconn, and transport/httpconn; the
// in-memory transport/loopback adapter satisfies it purely for tests and
// cmd/devicesim.
//
// Implementations must call SetListener's Listener methods from whatever
// goroutine observes the underlying I/O (spec §5) -- the engine's listener
// methods are safe for concurrent use from any number of callers.
type TransportConnection interface {
	Open(ctx context.Context, configs []*EngineConfig) error
	Close() error

	// SendMessage dispatches msg and returns synchronously with a status
	// code, or returns an error (which the caller wraps into a
	// TransportError if it is not one already).
	SendMessage(ctx context.Context, msg *Message) (StatusCode, error)

	// SendMessageResult acks an inbound message previously delivered via
	// the Listener's OnMessageReceived.
	SendMessageResult(ctx context.Context, msg *Message, result AckDisposition) error

	// ReceiveMessage polls for one inbound message. Only the
	// request/response adapter is expected to return a non-nil message
	// here; pub/sub and queue adapters deliver inbound messages
	// exclusively through the Listener and always return (nil, nil).
	ReceiveMessage(ctx context.Context) (*Message, error)

	SetListener(l Listener)

	GetConnectionID() string
	GetProtocol() Protocol
}

// Listener is the capability set a TransportConnection is handed so it can
// signal the engine (spec §4.7a). It deliberately exposes nothing else of
// the engine, breaking the back-reference cycle the teacher's closure-based
// onClose callback implies.
type Listener interface {
	OnMessageSent(msg *Message, err error)
	OnMessageReceived(msg *Message, err error)
	OnConnectionLost(err error, connID string)
	OnConnectionEstablished(connID string)
}

// ConnectionStateCallback is the lower-level status notification hook: it
// receives only the new ConnectionStatus on every status transition.
type ConnectionStateCallback func(status ConnectionStatus, ctx interface{})

// ConnectionStatusChangeCallback is the status-change notifier (spec §4.6,
// component C7): fired synchronously on the goroutine performing the
// transition, so it must not block for long.
type ConnectionStatusChangeCallback func(status ConnectionStatus, reason ConnectionStatusChangeReason, cause error, ctx interface{})
