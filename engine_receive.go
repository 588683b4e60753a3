package transport

import "context"

// HandleMessage is the receive-pump tick (spec §4.1). A no-op unless
// Connected. For the request/response protocol, the connection has no
// background listener goroutine to push inbound messages via
// OnMessageReceived, so the pump polls it directly first.
func (e *Engine) HandleMessage(ctx context.Context) {
	if e.Status() != Connected {
		return
	}
	if e.activeProtocol() == ReqResp {
		e.drainInboundHTTP(ctx)
	}

	msg, ok := e.received.PopFront()
	if !ok {
		return
	}
	if err := e.acknowledgeReceivedMessage(ctx, msg); err != nil {
		e.logger.Warn("failed to acknowledge received message", "message_id", msg.MessageID, "error", err)
	}
}

// drainInboundHTTP polls the request/response connection once and enqueues
// any message it returns onto received (spec §4.1).
func (e *Engine) drainInboundHTTP(ctx context.Context) {
	conn := e.currentConnection()
	if conn == nil {
		return
	}
	msg, err := conn.ReceiveMessage(ctx)
	if err != nil {
		e.logger.Warn("long-poll receive failed", "error", err)
		return
	}
	if msg != nil {
		e.received.PushBack(msg)
	}
}

// SetMessageCallback registers the application's inbound-message handler.
// Until one is registered, acknowledgeReceivedMessage treats every inbound
// message as Complete so the receive pump never stalls silently.
func (e *Engine) SetMessageCallback(cb func(msg *Message, ctx interface{}) AckDisposition, ctx interface{}) {
	e.statusMu.Lock()
	e.onMessage = cb
	e.onMessageCtx = ctx
	e.statusMu.Unlock()
}

// acknowledgeReceivedMessage implements spec §4.5: run the application
// callback, send its disposition to the broker, and on ack failure
// re-queue the inbound message so it is never silently lost.
func (e *Engine) acknowledgeReceivedMessage(ctx context.Context, msg *Message) error {
	e.statusMu.Lock()
	cb := e.onMessage
	cbCtx := e.onMessageCtx
	e.statusMu.Unlock()

	result := Complete
	if cb != nil {
		result = cb(msg, cbCtx)
	}

	conn := e.currentConnection()
	if conn == nil {
		e.received.PushBack(msg)
		return &IllegalState{Reason: "no active connection to ack through"}
	}

	if err := conn.SendMessageResult(ctx, msg, result); err != nil {
		e.received.PushBack(msg)
		return err
	}
	return nil
}

// InvokeCallbacks drains the callback queue, invoking each packet's saved
// user callback exactly once (spec §4.1, invariant 7). A callback that
// panics is recovered and logged; draining continues.
func (e *Engine) InvokeCallbacks() {
	for _, p := range e.callbacks.DrainAll() {
		e.invokeOne(p)
	}
}

func (e *Engine) invokeOne(p *Packet) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("message callback panicked", "message_id", p.Msg.MessageID, "panic", r)
		}
	}()
	p.invoke()
}
