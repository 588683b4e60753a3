package transport

import (
	"context"
	"time"
)

// maxPacketsPerSendTick bounds how many waiting packets a single
// SendMessages tick drains (spec §4.1): it bounds the latency of the
// status/receive pump when sending is a hot path.
const maxPacketsPerSendTick = 10

// SendMessages is the send-pump tick (spec §4.1). A no-op unless
// Connected; otherwise pops up to maxPacketsPerSendTick packets from
// waiting and dispatches each in submission order.
func (e *Engine) SendMessages(ctx context.Context) {
	if e.Status() != Connected {
		return
	}
	for _, p := range e.waiting.PopFrontN(maxPacketsPerSendTick) {
		e.sendPacket(ctx, p)
	}
}

// sendPacket implements spec §4.2.
func (e *Engine) sendPacket(ctx context.Context, p *Packet) {
	conn := e.currentConnection()
	if conn == nil {
		// Lost the connection between the pump's status check and here;
		// treat as a disconnection-induced retry rather than drop it.
		e.waiting.PushFront(p)
		return
	}

	if !e.isMessageValid(p) {
		return
	}

	expectsAck := p.Msg.AckNeeded(conn.GetProtocol())
	if expectsAck {
		e.inFlight.Set(p.Msg.MessageID, p)
	}

	status, err := conn.SendMessage(ctx, p.Msg)
	if err != nil {
		if expectsAck {
			e.inFlight.Pop(p.Msg.MessageID)
		}
		e.handleMessageException(p, AsTransportError(err))
		return
	}

	switch status {
	case OK, OKEmpty:
		if !expectsAck {
			p.Status = status
			e.callbacks.PushBack(p)
		}
		// else: leave in in-flight, awaiting OnMessageSent.
	default:
		if expectsAck {
			e.inFlight.Pop(p.Msg.MessageID)
		}
		e.handleMessageException(p, NewServiceTransportError(status, false))
	}
}

// isMessageValid implements spec §4.2's validity gate: expiry and SAS
// token expiry are both checked before a packet is ever handed to the
// connection.
func (e *Engine) isMessageValid(p *Packet) bool {
	if p.Msg.IsExpired(time.Now()) {
		p.Status = MessageExpired
		e.callbacks.PushBack(p)
		return false
	}
	if e.defaultConfig.isSasTokenExpired() {
		p.Status = Unauthorized
		e.callbacks.PushBack(p)
		e.updateStatus(Disconnected, ExpiredSasToken, NewAuthenticationError(nil, true))
		return false
	}
	return true
}

// handleMessageException implements spec §4.3.
func (e *Engine) handleMessageException(p *Packet, err *TransportError) {
	p.RetryCount++

	retryable := err.IsRetryable() &&
		!e.hasOperationTimedOut(p.EnqueueTimeMs)

	var decision RetryDecision
	if retryable {
		decision = e.retryPolicy().Decide(p.RetryCount, err)
		retryable = decision.ShouldRetry
	}

	if retryable {
		e.logger.Debug("retrying packet", "message_id", p.Msg.MessageID, "attempt", p.RetryCount, "delay_ms", decision.DelayMs)
		e.scheduler.After(time.Duration(decision.DelayMs)*time.Millisecond, func() {
			e.waiting.PushBack(p)
		})
		return
	}

	if err.HasStatus {
		p.Status = err.ServiceStatus
	} else {
		p.Status = StatusError
	}
	e.callbacks.PushBack(p)
}
