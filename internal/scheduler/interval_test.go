package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSchedulerRunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(ctx, "test", 10*time.Millisecond)
	s.RunImmediately = true

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() { runs.Add(1) })
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on ctx cancel")
	}
}

func TestIntervalSchedulerRunsToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewIntervalScheduler(ctx, "overrun", 10*time.Millisecond)
	s.RunImmediately = true

	var concurrent atomic.Int32
	var peak atomic.Int32
	var runs atomic.Int32
	go s.Start(func() {
		cur := concurrent.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		// Overrun the cadence on purpose.
		time.Sleep(30 * time.Millisecond)
		concurrent.Add(-1)
		runs.Add(1)
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load(), "cycles must never overlap")
}

func TestIntervalSchedulerInvalid(t *testing.T) {
	s := NewIntervalScheduler(context.Background(), "bad", 0)
	// Must return immediately rather than spin.
	doneCh := make(chan struct{})
	go func() {
		s.Start(func() {})
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("scheduler with zero interval should exit")
	}
}
