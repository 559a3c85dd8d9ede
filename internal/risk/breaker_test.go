package risk

import (
	"sync/atomic"
	"testing"
	"time"

	"vigil/internal/portfolio"
	"vigil/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPos(symbol string, unrealized float64) position.Position {
	return position.Position{
		Symbol:        symbol,
		State:         position.StateOpen,
		Quantity:      1,
		EntryPrice:    100,
		UnrealizedPnL: unrealized,
	}
}

func TestBreakerTripsOnDailyLossPct(t *testing.T) {
	var tripped atomic.Int32
	b := NewBreaker(func(rec TripRecord) { tripped.Add(1) })

	limits := Limits{DailyLossPct: 0.07}

	// Account started the day at 10000; realized -500, unrealized -210:
	// total -710 on the 10000 base is -7.1% against a -7.0% threshold.
	snap := portfolio.Snapshot{
		Balance:          9500,
		DailyRealizedPnL: -500,
		Positions:        []position.Position{openPos("BTCUSDT", -210)},
	}
	state := b.Check(snap, limits)
	assert.Equal(t, CircuitTripped, state)

	require.Eventually(t, func() bool { return tripped.Load() == 1 }, time.Second, 10*time.Millisecond)

	rec, ok := b.LastTrip()
	require.True(t, ok)
	assert.InDelta(t, -710, rec.PnL, 1e-6)
	assert.InDelta(t, -0.071, rec.PnLPct, 1e-6)
}

func TestBreakerStaysArmedUnderThreshold(t *testing.T) {
	b := NewBreaker(nil)
	limits := Limits{DailyLossPct: 0.07}
	snap := portfolio.Snapshot{
		Balance:          9600,
		DailyRealizedPnL: -400,
		Positions:        []position.Position{openPos("BTCUSDT", -250)},
	}
	// -650 on 10000 is -6.5%: under the line.
	assert.Equal(t, CircuitArmed, b.Check(snap, limits))
}

func TestBreakerAbsoluteThreshold(t *testing.T) {
	b := NewBreaker(nil)
	limits := Limits{DailyLossAbs: 300}
	snap := portfolio.Snapshot{Balance: 9700, DailyRealizedPnL: -300}
	state := b.Check(snap, limits)
	// No open positions, so the trip settles straight into AWAITING_RESET.
	assert.Equal(t, CircuitAwaitingReset, state)
}

func closingPos(symbol string) position.Position {
	return position.Position{
		Symbol:     symbol,
		State:      position.StateClosing,
		Quantity:   1,
		EntryPrice: 100,
	}
}

func TestBreakerAwaitsResetOnlyAtZeroLivePositions(t *testing.T) {
	b := NewBreaker(nil)
	limits := Limits{DailyLossPct: 0.07}

	withOpen := portfolio.Snapshot{
		Balance:          9290,
		DailyRealizedPnL: -710,
		Positions:        []position.Position{openPos("BTCUSDT", 0), openPos("ETHUSDT", 0)},
	}
	require.Equal(t, CircuitTripped, b.Check(withOpen, limits))

	// One position still closing: the venue has not confirmed the fill,
	// so the breaker stays TRIPPED and reset is refused.
	oneClosing := withOpen
	oneClosing.Positions = []position.Position{closingPos("BTCUSDT")}
	require.Equal(t, CircuitTripped, b.Check(oneClosing, limits))
	assert.Error(t, b.Reset("op"), "reset refused while a close is unconfirmed")

	flat := withOpen
	flat.Positions = nil
	assert.Equal(t, CircuitAwaitingReset, b.Check(flat, limits))
	assert.NoError(t, b.Reset("op"))
}

func TestBreakerTripWithOnlyClosingPositionStaysTripped(t *testing.T) {
	b := NewBreaker(nil)
	limits := Limits{DailyLossPct: 0.07}

	// Breach lands while the sole position is already mid-close: the
	// trip must not settle into AWAITING_RESET until it is terminal.
	closing := portfolio.Snapshot{
		Balance:          9290,
		DailyRealizedPnL: -710,
		Positions:        []position.Position{closingPos("BTCUSDT")},
	}
	require.Equal(t, CircuitTripped, b.Check(closing, limits))
	assert.Error(t, b.Reset("op"))

	done := closing
	done.Positions[0].State = position.StateClosed
	assert.Equal(t, CircuitAwaitingReset, b.Check(done, limits))
}

func TestBreakerResetSemantics(t *testing.T) {
	b := NewBreaker(nil)
	assert.Error(t, b.Reset("op"), "reset while armed is an error")

	limits := Limits{DailyLossAbs: 100}
	require.Equal(t, CircuitTripped, b.Check(portfolio.Snapshot{
		Balance:          900,
		DailyRealizedPnL: -100,
		Positions:        []position.Position{openPos("BTCUSDT", 0)},
	}, limits))

	assert.Error(t, b.Reset("op"), "reset refused while positions still open")

	require.Equal(t, CircuitAwaitingReset, b.Check(portfolio.Snapshot{
		Balance:          900,
		DailyRealizedPnL: -100,
	}, limits))
	require.NoError(t, b.Reset("op"))
	assert.Equal(t, CircuitArmed, b.State())
}

func TestBreakerNeverReArmsItself(t *testing.T) {
	b := NewBreaker(nil)
	limits := Limits{DailyLossAbs: 100}
	require.Equal(t, CircuitAwaitingReset, b.Check(portfolio.Snapshot{
		Balance:          900,
		DailyRealizedPnL: -150,
	}, limits))

	// Even a fully recovered snapshot leaves the breaker down.
	healthy := portfolio.Snapshot{Balance: 1100, DailyRealizedPnL: 50}
	assert.Equal(t, CircuitAwaitingReset, b.Check(healthy, limits))
}
