package transport

// The methods in this file satisfy the Listener interface (connection.go),
// implementing spec §4.1's "Listener callbacks (called by a connection
// into the engine)". A TransportConnection is handed the engine itself
// through this narrow interface, never a wider reference (spec §4.7a).

// OnMessageSent implements spec §4.1.
func (e *Engine) OnMessageSent(msg *Message, err error) {
	p, ok := e.inFlight.Pop(msg.MessageID)
	if !ok {
		return
	}
	if err == nil {
		p.Status = OKEmpty
		e.callbacks.PushBack(p)
		return
	}
	e.handleMessageException(p, AsTransportError(err))
}

// OnMessageReceived implements spec §4.1.
func (e *Engine) OnMessageReceived(msg *Message, err error) {
	switch {
	case msg != nil && err != nil:
		e.logger.Error("listener reported both a message and an error", "message_id", msg.MessageID, "error", err)
	case msg != nil:
		e.received.PushBack(msg)
	case err != nil:
		e.logger.Warn("listener reported a receive error", "error", err)
	}
}

// OnConnectionLost implements spec §4.1.
func (e *Engine) OnConnectionLost(err error, connID string) {
	if e.Status() == Disconnected {
		return
	}
	if connID != e.currentConnectionID() {
		return // stale listener from a previous connection
	}
	e.handleDisconnection(AsTransportError(err))
}

// OnConnectionEstablished implements spec §4.1.
func (e *Engine) OnConnectionEstablished(connID string) {
	if connID != e.currentConnectionID() {
		return
	}
	e.updateStatus(Connected, ConnectionOK, nil)
}
