package transport

// This file is the narrow inspection seam engine tests use to look at
// otherwise-private queue state, in place of the reflection the source
// design relied on (spec §9, "Dynamic reflection in tests").

func (e *Engine) waitingLen() int   { return e.waiting.Len() }
func (e *Engine) inFlightLen() int  { return e.inFlight.Len() }
func (e *Engine) callbackLen() int  { return e.callbacks.Len() }
func (e *Engine) receivedLen() int  { return e.received.Len() }

func (e *Engine) attemptCount() uint32 { return e.attempt() }
