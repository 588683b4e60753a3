package transport

import (
	"sync"
	"time"
)

// Scheduler runs one-shot deferred tasks after a delay, and lets every
// still-pending task from the current "generation" be cancelled at once
// without preventing the scheduler from being used again afterwards. It
// generalizes the time.NewTimer/select pattern the teacher's
// addrConn.resetTransport uses inline for its own reconnect backoff sleep
// (spec §4.3's packet retry and §4.4's reconnect sleep both need the same
// "run this once, later, cancelable on Close" primitive, so the engine
// owns exactly one of these per spec §9's "no process-global scheduler"
// note). CancelAll is called on Close (spec: "Close is the only
// cancellation primitive"); CancelAll itself starts a new generation, so
// retries scheduled after a later Open are unaffected by a prior Close.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[*time.Timer]struct{}
	cancelCh chan struct{}
}

// NewScheduler returns a ready-to-use Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers:   make(map[*time.Timer]struct{}),
		cancelCh: make(chan struct{}),
	}
}

// After runs fn after delay, unless CancelAll is invoked before it fires.
// fn always runs on its own goroutine, never synchronously under a caller's
// lock.
func (s *Scheduler) After(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	cancelCh := s.cancelCh
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		select {
		case <-cancelCh:
		default:
			fn()
		}
	})
	s.timers[t] = struct{}{}
	s.mu.Unlock()
}

// Sleep blocks the calling goroutine for delay, or returns early if
// CancelAll is invoked first. Returns false when it was cancelled early.
// Used by the reconnect loop (spec §4.4), which must block its own
// dedicated goroutine rather than deferring.
func (s *Scheduler) Sleep(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	s.mu.Lock()
	cancelCh := s.cancelCh
	s.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-cancelCh:
		return false
	}
}

// CancelAll stops every pending task scheduled so far and advances the
// generation, so tasks scheduled after CancelAll returns are unaffected.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.cancelCh)
	s.cancelCh = make(chan struct{})
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}
