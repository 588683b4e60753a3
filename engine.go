// Package transport implements the device-side transport state machine:
// it owns the lifecycle of the active connection to a cloud message
// broker, batches and retries outgoing messages, drives inbound message
// callbacks, and reconnects under a pluggable retry policy. See SPEC_FULL.md
// for the full design; this file holds the Engine type and its public
// contract (construction, Open, Close, AddMessage, and registration).
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshlink-io/devicetransport/internal/packetqueue"
)

// Engine is the transport state machine described by spec §3-§5. The zero
// value is not usable; construct with NewEngine.
type Engine struct {
	defaultConfig *EngineConfig
	configs       []*EngineConfig

	waiting   *packetqueue.Queue[*Packet]
	inFlight  *packetqueue.Map[string, *Packet]
	callbacks *packetqueue.Queue[*Packet]
	received  *packetqueue.Queue[*Message]

	// statusMu guards status, currentAttempt, reconnectStartedMs, and
	// connection together, held only for the duration of a transition
	// (spec §5). statusSnapshot lets readers observe status without the
	// lock, re-validating under statusMu when they act on what they saw.
	statusMu           sync.Mutex
	status             ConnectionStatus
	statusSnapshot     atomic.Value // ConnectionStatus
	currentAttempt     uint32
	reconnectStartedMs int64
	connection         TransportConnection
	reconnecting       sync.Mutex // dedicated reconnect guard (spec §5)

	statusCallback    ConnectionStatusChangeCallback
	statusCallbackCtx interface{}
	stateCallback     ConnectionStateCallback
	stateCallbackCtx  interface{}

	onMessage    func(msg *Message, ctx interface{}) AckDisposition
	onMessageCtx interface{}

	scheduler *Scheduler
	logger    Logger

	closeOnce sync.Once
}

// NewEngine constructs an Engine around defaultConfig. Fails with
// InvalidArgument when defaultConfig is nil. Initial status is
// Disconnected, currentAttempt is 0 (spec §4.1).
func NewEngine(defaultConfig *EngineConfig, opts ...EngineOption) (*Engine, error) {
	if defaultConfig == nil {
		return nil, &InvalidArgument{Field: "default_config"}
	}
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	scheduler := o.scheduler
	if scheduler == nil {
		scheduler = NewScheduler()
	}

	e := &Engine{
		defaultConfig:     defaultConfig,
		waiting:           packetqueue.New[*Packet](),
		inFlight:          packetqueue.NewMap[string, *Packet](),
		callbacks:         packetqueue.New[*Packet](),
		received:          packetqueue.New[*Message](),
		status:            Disconnected,
		statusCallback:    o.statusCallback,
		statusCallbackCtx: o.statusCallbackCtx,
		stateCallback:     o.stateCallback,
		stateCallbackCtx:  o.stateCallbackCtx,
		scheduler:         scheduler,
		logger:            o.logger,
	}
	e.statusSnapshot.Store(Disconnected)
	return e, nil
}

// Status returns the engine's current ConnectionStatus without acquiring
// statusMu. Callers that act on the result must re-validate under a
// transition-aware path (e.g. retry the operation) if it matters that the
// status has not since changed (spec §5).
func (e *Engine) Status() ConnectionStatus {
	return e.statusSnapshot.Load().(ConnectionStatus)
}

// Open establishes the underlying connection for configs (spec §4.1).
// Idempotent when already Connected; fails fast when a reconnect is in
// progress or the credential has expired.
func (e *Engine) Open(ctx context.Context, configs []*EngineConfig) error {
	if len(configs) == 0 {
		return &InvalidArgument{Field: "configs"}
	}

	e.statusMu.Lock()
	switch e.status {
	case Connected:
		e.statusMu.Unlock()
		return nil
	case DisconnectedRetrying:
		e.statusMu.Unlock()
		return NewTransportError(errClosing, false)
	}
	cfg := e.activeConfig(configs)
	if cfg.isCredentialExpired() {
		e.statusMu.Unlock()
		return NewAuthenticationError(nil, true)
	}
	e.configs = configs
	e.statusMu.Unlock()

	return e.openConnection(ctx, configs)
}

// activeConfig picks the config driving protocol selection: the first of
// the caller-supplied configs, falling back to defaultConfig.
func (e *Engine) activeConfig(configs []*EngineConfig) *EngineConfig {
	if len(configs) > 0 {
		return configs[0]
	}
	return e.defaultConfig
}

// openConnection builds a fresh TransportConnection for the active
// protocol, wires the engine in as its Listener, and opens it. Returns
// once the connection reports established or fails -- it does not itself
// update status on success; that happens when the listener's
// OnConnectionEstablished callback fires (spec §4.1).
func (e *Engine) openConnection(ctx context.Context, configs []*EngineConfig) error {
	cfg := e.activeConfig(configs)
	if cfg.ConnectionFactory == nil {
		return &InvalidArgument{Field: "connection_factory"}
	}

	conn, err := cfg.ConnectionFactory(cfg)
	if err != nil {
		return AsTransportError(err)
	}
	conn.SetListener(e)

	e.statusMu.Lock()
	e.connection = conn
	e.statusMu.Unlock()

	if err := conn.Open(ctx, configs); err != nil {
		e.logger.Warn("open connection failed", "protocol", cfg.Protocol.String(), "error", err)
		return AsTransportError(err)
	}
	return nil
}

// Close drains every pending packet as MessageCancelledOnClose, invokes
// their callbacks, tears down the connection, and transitions to
// Disconnected (spec §4.1). A second call on an already-Disconnected
// engine is a no-op.
func (e *Engine) Close(reason ConnectionStatusChangeReason, cause error) error {
	e.statusMu.Lock()
	if e.status == Disconnected {
		e.statusMu.Unlock()
		return nil
	}
	conn := e.connection
	e.connection = nil
	e.statusMu.Unlock()

	e.scheduler.CancelAll()

	for _, p := range e.waiting.DrainAll() {
		e.cancelPacket(p)
	}
	for _, p := range e.inFlight.DrainAll() {
		e.cancelPacket(p)
	}
	e.InvokeCallbacks()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	e.updateStatus(Disconnected, reason, cause)

	return closeErr
}

func (e *Engine) cancelPacket(p *Packet) {
	p.Status = MessageCancelledOnClose
	e.callbacks.PushBack(p)
}

// AddMessage wraps msg into a Packet and enqueues it on the waiting queue
// (spec §4.1). Fails with IllegalState when the engine is Disconnected --
// there is nothing useful to retry toward.
func (e *Engine) AddMessage(msg *Message, cb MessageCallback, ctx interface{}) error {
	if e.Status() == Disconnected {
		return &IllegalState{Reason: "engine is disconnected"}
	}
	p := newPacket(msg, cb, ctx, time.Now())
	e.waiting.PushBack(p)
	return nil
}

// IsEmpty reports whether all three packet containers are empty (spec
// §4.1, §8).
func (e *Engine) IsEmpty() bool {
	return e.waiting.Empty() && e.inFlight.Empty() && e.callbacks.Empty()
}

// RegisterConnectionStateCallback saves the lower-level status
// notification hook, fired on every status transition.
func (e *Engine) RegisterConnectionStateCallback(cb ConnectionStateCallback, ctx interface{}) error {
	if cb == nil {
		return &InvalidArgument{Field: "callback"}
	}
	e.statusMu.Lock()
	e.stateCallback = cb
	e.stateCallbackCtx = ctx
	e.statusMu.Unlock()
	return nil
}

// RegisterConnectionStatusChangeCallback saves the status-change notifier
// (spec C7).
func (e *Engine) RegisterConnectionStatusChangeCallback(cb ConnectionStatusChangeCallback, ctx interface{}) error {
	if cb == nil {
		return &InvalidArgument{Field: "callback"}
	}
	e.statusMu.Lock()
	e.statusCallback = cb
	e.statusCallbackCtx = ctx
	e.statusMu.Unlock()
	return nil
}

// updateStatus implements spec §4.6: on a real transition, reset the
// reconnect counters when landing on Connected, then fire the
// status-change notifier synchronously on the calling goroutine.
func (e *Engine) updateStatus(newStatus ConnectionStatus, reason ConnectionStatusChangeReason, cause error) {
	e.statusMu.Lock()
	if e.status == newStatus {
		e.statusMu.Unlock()
		return
	}
	e.status = newStatus
	e.statusSnapshot.Store(newStatus)
	if newStatus == Connected {
		e.currentAttempt = 0
		e.reconnectStartedMs = 0
	}
	cb := e.statusCallback
	ctx := e.statusCallbackCtx
	stateCb := e.stateCallback
	stateCtx := e.stateCallbackCtx
	e.statusMu.Unlock()

	e.logger.Info("connection status changed", "status", newStatus.String(), "reason", reason.String())

	if stateCb != nil {
		stateCb(newStatus, stateCtx)
	}
	if cb != nil {
		cb(newStatus, reason, cause, ctx)
	}
}

// hasOperationTimedOut implements spec §4.3: false when startMs is zero
// (not started), true once config.OperationTimeoutMs has elapsed since.
// A zero OperationTimeoutMs never times out.
func (e *Engine) hasOperationTimedOut(startMs int64) bool {
	if startMs == 0 {
		return false
	}
	budget := e.defaultConfig.OperationTimeoutMs
	if budget == 0 {
		return false
	}
	elapsed := time.Now().UnixMilli() - startMs
	return elapsed > int64(budget)
}

func (e *Engine) retryPolicy() RetryPolicy {
	if e.defaultConfig.RetryPolicy != nil {
		return e.defaultConfig.RetryPolicy
	}
	return NewExponentialRetryPolicy(0)
}

func (e *Engine) currentConnectionID() string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.connection == nil {
		return ""
	}
	return e.connection.GetConnectionID()
}

func (e *Engine) currentConnection() TransportConnection {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.connection
}

func (e *Engine) activeProtocol() Protocol {
	if len(e.configs) > 0 {
		return e.configs[0].Protocol
	}
	return e.defaultConfig.Protocol
}
