package market

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

const (
	emaFastPeriod = 20
	emaSlowPeriod = 50
	rsiPeriod     = 14
	atrPeriod     = 14
)

// ComputeIndicators derives the standard indicator set from a candle
// window. The window must cover the slowest period.
func ComputeIndicators(candles []Candle) (Indicators, error) {
	if len(candles) < emaSlowPeriod {
		return Indicators{}, fmt.Errorf("need at least %d candles, have %d", emaSlowPeriod, len(candles))
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	emaFast := talib.Ema(closes, emaFastPeriod)
	emaSlow := talib.Ema(closes, emaSlowPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)
	macd, macdSignal, _ := talib.Macd(closes, 12, 26, 9)
	atr := talib.Atr(highs, lows, closes, atrPeriod)

	last := len(closes) - 1
	return Indicators{
		EMAFast:    emaFast[last],
		EMASlow:    emaSlow[last],
		RSI:        rsi[last],
		MACD:       macd[last],
		MACDSignal: macdSignal[last],
		ATR:        atr[last],
	}, nil
}
