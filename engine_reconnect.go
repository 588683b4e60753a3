package transport

import (
	"context"
	"time"
)

// handleDisconnection implements spec §4.4: move every in-flight packet
// ahead of the waiting queue, transition to DisconnectedRetrying, check
// whether err should be re-labelled retryable, then run the reconnect
// loop. Runs on its own goroutine so it never blocks the caller (a
// listener callback from the connection's own I/O goroutine).
func (e *Engine) handleDisconnection(err *TransportError) {
	moved := e.inFlight.DrainAll()
	e.waiting.PushFrontAll(moved)

	e.updateStatus(DisconnectedRetrying, reasonOf(err), err)

	e.checkForUnauthorizedException(err)

	go e.reconnect(context.Background(), err)
}

// checkForUnauthorizedException implements spec §4.4: some brokers return
// unauthorized on conditions that resolve under retry (e.g. a topic not
// yet provisioned); when the error is an unauthorized subkind and the
// credential is not itself expired, mark it retryable. This is the only
// place error retryability is mutated.
func (e *Engine) checkForUnauthorizedException(err *TransportError) {
	if err == nil || !err.Unauthorized {
		return
	}
	if e.defaultConfig.isCredentialExpired() {
		return
	}
	err.Retryable = true
}

// reconnect implements spec §4.4's retry loop. It holds e.reconnecting for
// its entire run so concurrent OnConnectionLost events never start a
// second overlapping reconnect loop.
func (e *Engine) reconnect(ctx context.Context, firstErr *TransportError) {
	if !e.reconnecting.TryLock() {
		return
	}
	defer e.reconnecting.Unlock()

	e.statusMu.Lock()
	if e.reconnectStartedMs == 0 {
		e.reconnectStartedMs = time.Now().UnixMilli()
	}
	startedMs := e.reconnectStartedMs
	e.statusMu.Unlock()

	lastErr := firstErr

	for e.Status() == DisconnectedRetrying &&
		lastErr.IsRetryable() &&
		!e.hasOperationTimedOutSince(startedMs) {

		decision := e.retryPolicy().Decide(e.attempt(), lastErr)
		if !decision.ShouldRetry {
			e.Close(RetryExpired, lastErr)
			return
		}

		if !e.scheduler.Sleep(time.Duration(decision.DelayMs) * time.Millisecond) {
			return // cancelled by Close
		}
		e.incrementAttempt()

		lastErr = e.singleReconnectAttempt(ctx)
		e.checkForUnauthorizedException(lastErr)
	}

	if e.Status() != DisconnectedRetrying {
		return // already closed, or re-established (lastErr == nil) by this loop / a racing Open
	}

	if e.hasOperationTimedOutSince(startedMs) {
		e.Close(RetryExpired, &OperationTimeout{BudgetMs: e.defaultConfig.OperationTimeoutMs})
		return
	}
	if lastErr != nil && !lastErr.IsRetryable() {
		if err := e.Close(exceptionToReason(lastErr), lastErr); err != nil {
			e.updateStatus(Disconnected, CommunicationError, err)
		}
	}
}

// singleReconnectAttempt closes the current connection (if any) and
// re-opens one against the last configs used, per spec §4.4. A nil return
// means the dial succeeded; the engine's transition to Connected still
// waits on the listener's OnConnectionEstablished callback, consistent
// with Open's own contract.
func (e *Engine) singleReconnectAttempt(ctx context.Context) *TransportError {
	if conn := e.currentConnection(); conn != nil {
		_ = conn.Close()
	}
	if err := e.openConnection(ctx, e.configs); err != nil {
		return AsTransportError(err)
	}
	return nil
}

func (e *Engine) attempt() uint32 {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.currentAttempt
}

func (e *Engine) incrementAttempt() {
	e.statusMu.Lock()
	e.currentAttempt++
	e.statusMu.Unlock()
}

func (e *Engine) hasOperationTimedOutSince(startMs int64) bool {
	return e.hasOperationTimedOut(startMs)
}

// reasonOf maps a transport error onto the disconnection reason reported
// to the status-change notifier when the connection is first lost.
func reasonOf(err *TransportError) ConnectionStatusChangeReason {
	if err == nil {
		return CommunicationError
	}
	if err.CredExpired {
		return ExpiredSasToken
	}
	if err.Retryable {
		return NoNetwork
	}
	return CommunicationError
}

// exceptionToReason implements spec §4.4's terminal-reason mapping.
func exceptionToReason(err *TransportError) ConnectionStatusChangeReason {
	if err == nil {
		return CommunicationError
	}
	if err.Retryable {
		return NoNetwork
	}
	if err.CredExpired {
		return ExpiredSasToken
	}
	return BadCredential
}
