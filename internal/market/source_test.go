package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFreshness(t *testing.T) {
	now := time.Now().UTC()
	snap := &Snapshot{Symbol: "BTCUSDT", Price: 50000, FetchedAt: now.Add(-10 * time.Second)}

	assert.NoError(t, CheckFreshness(snap, 30*time.Second, now))

	err := CheckFreshness(snap, 5*time.Second, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStale)

	assert.Error(t, CheckFreshness(nil, time.Second, now))
}

func TestComputeIndicators(t *testing.T) {
	candles := make([]Candle, 120)
	price := 100.0
	for i := range candles {
		price += 0.5
		candles[i] = Candle{
			Open:  price - 0.5,
			High:  price + 1,
			Low:   price - 1,
			Close: price,
		}
	}
	ind, err := ComputeIndicators(candles)
	require.NoError(t, err)
	assert.Greater(t, ind.EMAFast, ind.EMASlow, "steady uptrend keeps fast EMA above slow")
	assert.Greater(t, ind.RSI, 50.0)
	assert.Greater(t, ind.ATR, 0.0)
}

func TestComputeIndicatorsShortWindow(t *testing.T) {
	_, err := ComputeIndicators(make([]Candle, 10))
	assert.Error(t, err)
}
