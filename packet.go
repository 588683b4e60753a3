package transport

import "time"

// MessageCallback is invoked exactly once per Packet, when the packet
// reaches the callback queue and InvokeCallbacks drains it.
type MessageCallback func(status StatusCode, ctx interface{})

// Packet wraps a Message with the bookkeeping the engine needs to retry,
// time out, and eventually deliver a callback for it. A Packet belongs to
// exactly one of the engine's three containers at any instant (spec
// invariant 1); ownership moves by value copy of the pointer, never by
// concurrent sharing across goroutines.
type Packet struct {
	Msg *Message

	callback MessageCallback
	ctx      interface{}

	Status     StatusCode
	RetryCount uint32

	// EnqueueTimeMs is the wall-clock instant (unix milliseconds) the
	// packet was first added to the waiting queue. It never changes
	// across retries; hasOperationTimedOut is measured from it.
	EnqueueTimeMs int64
}

// newPacket wraps msg for submission, recording the current time as the
// enqueue time.
func newPacket(msg *Message, cb MessageCallback, ctx interface{}, now time.Time) *Packet {
	return &Packet{
		Msg:           msg,
		callback:      cb,
		ctx:           ctx,
		Status:        StatusUnset,
		EnqueueTimeMs: now.UnixMilli(),
	}
}

// invoke runs the saved user callback exactly once. Panics raised by the
// application callback are recovered by the caller (InvokeCallbacks), not
// here, so the recovery site can log with full queue-draining context.
func (p *Packet) invoke() {
	if p.callback != nil {
		p.callback(p.Status, p.ctx)
	}
}
