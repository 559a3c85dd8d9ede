package circuit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("gw", 3, time.Minute)
	require.True(t, b.Allow())

	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := NewBreaker("gw", 1, 10*time.Millisecond)
	b.Failure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow(), "cooldown elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State())

	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("gw", 1, 5*time.Millisecond)
	b.Failure()
	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b := NewBreaker("gw", 1, time.Minute)
	var fired atomic.Int32
	b.OnStateChange(func(name string, from, to State) {
		if name == "gw" && to == StateOpen {
			fired.Add(1)
		}
	})
	b.Failure()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}
