package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAfterFires(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Bool

	s.After(5*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestSchedulerCancelAllStopsPendingTask(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Bool

	s.After(50*time.Millisecond, func() { fired.Store(true) })
	s.CancelAll()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSchedulerCancelAllDoesNotAffectLaterTasks(t *testing.T) {
	s := NewScheduler()
	s.CancelAll()

	var fired atomic.Bool
	s.After(5*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestSchedulerSleepReturnsTrueOnExpiry(t *testing.T) {
	s := NewScheduler()
	assert.True(t, s.Sleep(5*time.Millisecond))
}

func TestSchedulerSleepReturnsFalseOnCancel(t *testing.T) {
	s := NewScheduler()

	done := make(chan bool, 1)
	go func() { done <- s.Sleep(time.Second) }()

	time.Sleep(10 * time.Millisecond)
	s.CancelAll()

	select {
	case result := <-done:
		assert.False(t, result)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after CancelAll")
	}
}
