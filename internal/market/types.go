// Package market defines the market-data contract the orchestrator
// consumes: per-instrument snapshots with a hard staleness bound.
package market

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Indicators are pre-computed from the candle window.
type Indicators struct {
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	ATR        float64 `json:"atr"`
}

// Snapshot is the per-instrument market view for one cycle.
type Snapshot struct {
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	Candles    []Candle   `json:"candles,omitempty"`
	Indicators Indicators `json:"indicators"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Age returns how old the snapshot is.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
