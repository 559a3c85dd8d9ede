// Package portfolio owns the only mutable shared state in the system:
// the position set, account balance and today's realized P&L. All
// mutation is serialized through Book; readers get copied snapshots.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"vigil/internal/position"
)

// Snapshot is the read-only view assembled for one cycle or one
// risk check. It is always rebuilt from the book, never cached by
// consumers, so no one acts on stale exposure data.
type Snapshot struct {
	Balance          float64             `json:"balance"`
	Positions        []position.Position `json:"positions"`
	DailyRealizedPnL float64             `json:"daily_realized_pnl"`
	DayStart         time.Time           `json:"day_start"`
	TakenAt          time.Time           `json:"taken_at"`
}

// OpenPositions filters the snapshot down to OPEN entries.
func (s Snapshot) OpenPositions() []position.Position {
	var out []position.Position
	for _, p := range s.Positions {
		if p.State == position.StateOpen {
			out = append(out, p)
		}
	}
	return out
}

// LivePositions filters to non-terminal entries: OPENING, OPEN and
// CLOSING. A CLOSING position has left OPEN but can still hit the
// account until the venue confirms the fill.
func (s Snapshot) LivePositions() []position.Position {
	var out []position.Position
	for _, p := range s.Positions {
		if !p.State.Terminal() && p.State != position.StateNone {
			out = append(out, p)
		}
	}
	return out
}

// TotalExposure sums entry notional across OPEN and OPENING positions.
func (s Snapshot) TotalExposure() float64 {
	var total float64
	for _, p := range s.Positions {
		if p.State == position.StateOpen || p.State == position.StateOpening {
			total += p.EntryPrice * p.Quantity
		}
	}
	return total
}

// UnrealizedPnL sums unrealized P&L across open positions.
func (s Snapshot) UnrealizedPnL() float64 {
	var total float64
	for _, p := range s.Positions {
		if p.State == position.StateOpen {
			total += p.UnrealizedPnL
		}
	}
	return total
}

// Viewer is the read side handed to components that must never mutate.
type Viewer interface {
	Snapshot() Snapshot
}

// Book is the single writer. It could be swapped for a distributed
// lock implementation behind the same methods if sharded later.
type Book struct {
	mu            sync.RWMutex
	balance       float64
	positions     map[string]*position.Position
	dailyRealized float64
	dayStart      time.Time
}

func NewBook(balance float64) *Book {
	return &Book{
		balance:   balance,
		positions: make(map[string]*position.Position),
		dayStart:  time.Now().UTC().Truncate(24 * time.Hour),
	}
}

func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		Balance:          b.balance,
		DailyRealizedPnL: b.dailyRealized,
		DayStart:         b.dayStart,
		TakenAt:          time.Now().UTC(),
		Positions:        make([]position.Position, 0, len(b.positions)),
	}
	for _, p := range b.positions {
		cp := *p
		cp.History = append([]position.TransitionRecord(nil), p.History...)
		snap.Positions = append(snap.Positions, cp)
	}
	return snap
}

func (b *Book) SetBalance(balance float64) {
	b.mu.Lock()
	b.balance = balance
	b.mu.Unlock()
}

// Track registers a new position with the book. The book becomes the
// position's owner; callers keep only the ID.
func (b *Book) Track(p *position.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.positions[p.ID]; exists {
		return fmt.Errorf("position %s already tracked", p.ID)
	}
	b.positions[p.ID] = p
	return nil
}

// Get returns a copy of the position, or false when unknown.
func (b *Book) Get(id string) (position.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return position.Position{}, false
	}
	cp := *p
	cp.History = append([]position.TransitionRecord(nil), p.History...)
	return cp, true
}

// Transition applies a state change under the write lock and returns a
// copy of the committed position. The caller runs the circuit-breaker
// check on a fresh snapshot immediately after a committed change.
func (b *Book) Transition(id string, target position.State, reason string) (position.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return position.Position{}, fmt.Errorf("position %s not tracked", id)
	}
	if err := p.Transition(target, reason); err != nil {
		return position.Position{}, err
	}
	cp := *p
	cp.History = append([]position.TransitionRecord(nil), p.History...)
	return cp, nil
}

// Mutate runs fn on the owned position under the write lock. Used for
// fills, mark updates and venue reconciliation corrections.
func (b *Book) Mutate(id string, fn func(p *position.Position) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return fmt.Errorf("position %s not tracked", id)
	}
	return fn(p)
}

// ApplyClose books the realized P&L of a finished position.
func (b *Book) ApplyClose(id string, exitPrice, realized float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return fmt.Errorf("position %s not tracked", id)
	}
	p.ExitPrice = exitPrice
	p.RealizedPnL = realized
	p.UnrealizedPnL = 0
	b.dailyRealized += realized
	b.balance += realized
	return nil
}

// FindBySymbolSide locates a live position by instrument and side.
func (b *Book) FindBySymbolSide(symbol string, side position.Side) (position.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		if p.Symbol == symbol && p.Side == side && !p.State.Terminal() {
			cp := *p
			cp.History = append([]position.TransitionRecord(nil), p.History...)
			return cp, true
		}
	}
	return position.Position{}, false
}

// RestoreDaily reinstates the day's realized P&L from a persisted
// snapshot after a restart. Only applied when the snapshot belongs to
// the current UTC day.
func (b *Book) RestoreDaily(realized float64, takenAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if takenAt.UTC().Truncate(24 * time.Hour).Equal(b.dayStart) {
		b.dailyRealized = realized
	}
}

// RebaseDay zeroes the daily realized P&L at the UTC rollover.
func (b *Book) RebaseDay(now time.Time) {
	b.mu.Lock()
	b.dailyRealized = 0
	b.dayStart = now.UTC().Truncate(24 * time.Hour)
	b.mu.Unlock()
}
