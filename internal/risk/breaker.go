package risk

import (
	"fmt"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/portfolio"

	"github.com/shopspring/decimal"
)

// CircuitState is the process-wide trading switch.
type CircuitState string

const (
	CircuitArmed         CircuitState = "ARMED"
	CircuitTripped       CircuitState = "TRIPPED"
	CircuitAwaitingReset CircuitState = "AWAITING_RESET"
)

// TripRecord captures one breaker trip for audit. LiveCount is the
// number of positions not yet confirmed closed at trip time.
type TripRecord struct {
	PnL       float64   `json:"pnl"`
	PnLPct    float64   `json:"pnl_pct"`
	Threshold string    `json:"threshold"`
	LiveCount int       `json:"live_count"`
	TrippedAt time.Time `json:"tripped_at"`
}

// Breaker evaluates today's realized+unrealized P&L against the
// daily-loss threshold. Tripping is one-way within a trading day:
// re-arming requires an explicit operator reset, never a timer.
type Breaker struct {
	mu       sync.Mutex
	state    CircuitState
	lastTrip *TripRecord
	onTrip   func(TripRecord)
}

func NewBreaker(onTrip func(TripRecord)) *Breaker {
	return &Breaker{state: CircuitArmed, onTrip: onTrip}
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastTrip returns the most recent trip record, if any.
func (b *Breaker) LastTrip() (TripRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastTrip == nil {
		return TripRecord{}, false
	}
	return *b.lastTrip, true
}

// Check re-evaluates the breaker against a fresh snapshot. Called
// after every committed position-state change, not on a timer, so a
// breach is caught immediately. Returns the resulting state.
func (b *Breaker) Check(snap portfolio.Snapshot, limits Limits) CircuitState {
	loss := decimal.NewFromFloat(snap.DailyRealizedPnL).Add(decimal.NewFromFloat(snap.UnrealizedPnL()))
	dayBase := decimal.NewFromFloat(snap.Balance).Sub(decimal.NewFromFloat(snap.DailyRealizedPnL))

	var breached bool
	var threshold string
	if limits.DailyLossAbs > 0 && loss.LessThanOrEqual(decimal.NewFromFloat(-limits.DailyLossAbs)) {
		breached = true
		threshold = fmt.Sprintf("abs %.2f", limits.DailyLossAbs)
	}
	if !breached && limits.DailyLossPct > 0 && dayBase.IsPositive() {
		limit := dayBase.Mul(decimal.NewFromFloat(limits.DailyLossPct)).Neg()
		if loss.LessThanOrEqual(limit) {
			breached = true
			threshold = fmt.Sprintf("pct %.2f%%", limits.DailyLossPct*100)
		}
	}

	// AWAITING_RESET requires every position confirmed closed. A
	// CLOSING position is still live: the close was committed locally
	// but the venue has not confirmed the fill yet.
	live := len(snap.LivePositions())
	pnl, _ := loss.Float64()
	var pnlPct float64
	if dayBase.IsPositive() {
		pnlPct, _ = loss.Div(dayBase).Float64()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitArmed:
		if breached {
			rec := TripRecord{
				PnL:       pnl,
				PnLPct:    pnlPct,
				Threshold: threshold,
				LiveCount: live,
				TrippedAt: time.Now().UTC(),
			}
			b.state = CircuitTripped
			b.lastTrip = &rec
			logger.Errorf("risk: circuit breaker TRIPPED pnl=%.2f (%.2f%%) threshold=%s live=%d",
				pnl, pnlPct*100, threshold, live)
			if b.onTrip != nil {
				go b.onTrip(rec)
			}
			if live == 0 {
				b.state = CircuitAwaitingReset
			}
		}
	case CircuitTripped:
		if live == 0 {
			b.state = CircuitAwaitingReset
			logger.Warnf("risk: all positions confirmed closed, breaker now AWAITING_RESET")
		}
	}
	return b.state
}

// Reset re-arms the breaker. Valid only from AWAITING_RESET and only
// by operator action; the system never re-arms itself.
func (b *Breaker) Reset(operator string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitArmed:
		return fmt.Errorf("breaker already armed")
	case CircuitTripped:
		return fmt.Errorf("breaker tripped with positions still closing; reset refused")
	}
	b.state = CircuitArmed
	logger.Warnf("risk: circuit breaker re-armed by operator %q", operator)
	return nil
}
