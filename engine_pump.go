package transport

import (
	"context"
	"time"
)

// Run starts the three periodic pumps described in spec §5 (send, receive,
// callback) as separate goroutines and blocks until ctx is cancelled. The
// facade API (SendMessages/HandleMessage/InvokeCallbacks) remains usable
// standalone for callers that want to drive their own schedule (e.g.
// tests); Run is the convenience driver cmd/devicesim and most
// applications use instead of hand-rolling three tickers.
func (e *Engine) Run(ctx context.Context) {
	sendPeriod := time.Duration(e.defaultConfig.sendPeriodMs()) * time.Millisecond
	recvPeriod := time.Duration(e.defaultConfig.receivePeriodMs()) * time.Millisecond
	const callbackPeriod = 10 * time.Millisecond

	go e.pump(ctx, sendPeriod, func() { e.SendMessages(ctx) })
	go e.pump(ctx, recvPeriod, func() { e.HandleMessage(ctx) })
	go e.pump(ctx, callbackPeriod, e.InvokeCallbacks)

	<-ctx.Done()
}

func (e *Engine) pump(ctx context.Context, period time.Duration, tick func()) {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick()
		}
	}
}
