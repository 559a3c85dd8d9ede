// Package position holds the lifecycle state machine for a single
// exposure. It is pure and synchronous: callers provide their own
// concurrency discipline.
package position

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a position.
type State string

const (
	StateNone       State = "NONE"
	StateOpening    State = "OPENING"
	StateOpen       State = "OPEN"
	StateClosing    State = "CLOSING"
	StateClosed     State = "CLOSED"
	StateLiquidated State = "LIQUIDATED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateClosed, StateLiquidated, StateFailed:
		return true
	}
	return false
}

// Side of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide normalizes a side string. Returns false on unknown input.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	}
	return "", false
}

// TransitionRecord is one accepted state change. History is append-only.
type TransitionRecord struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Position is one open/closing exposure to one instrument.
type Position struct {
	ID            string             `json:"id"`
	Symbol        string             `json:"symbol"`
	Side          Side               `json:"side"`
	Quantity      float64            `json:"quantity"`
	EntryPrice    float64            `json:"entry_price"`
	ExitPrice     float64            `json:"exit_price,omitempty"`
	StopPrice     float64            `json:"stop_price"`
	TakeProfit    float64            `json:"take_profit,omitempty"`
	Leverage      float64            `json:"leverage"`
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	State         State              `json:"state"`
	VenueID       string             `json:"venue_id,omitempty"`
	OpenedAt      time.Time          `json:"opened_at,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
	History       []TransitionRecord `json:"history"`
}

// New creates a position in StateNone, ready for the OPENING transition.
func New(symbol string, side Side, quantity, leverage float64) *Position {
	now := time.Now().UTC()
	return &Position{
		ID:        uuid.NewString(),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Side:      side,
		Quantity:  quantity,
		Leverage:  leverage,
		State:     StateNone,
		UpdatedAt: now,
	}
}

// InvalidTransitionError reports a transition outside the valid table.
// It is fatal to the caller's request, not to the system: the position
// is left exactly as it was.
type InvalidTransitionError struct {
	PositionID string
	From       State
	To         State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("position %s: invalid transition %s -> %s", e.PositionID, e.From, e.To)
}

var validTransitions = map[State][]State{
	StateNone:    {StateOpening},
	StateOpening: {StateOpen, StateFailed},
	StateOpen:    {StateClosing, StateLiquidated},
	StateClosing: {StateClosed},
}

func allowed(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves p to target if the (State, target) pair is in the
// valid table, appending a TransitionRecord. On a rejected transition p
// is unchanged and an *InvalidTransitionError is returned.
func (p *Position) Transition(target State, reason string) error {
	if !allowed(p.State, target) {
		return &InvalidTransitionError{PositionID: p.ID, From: p.State, To: target}
	}
	now := time.Now().UTC()
	rec := TransitionRecord{From: p.State, To: target, Reason: reason, At: now}
	p.History = append(p.History, rec)
	p.State = target
	p.UpdatedAt = now
	if target == StateOpen && p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	return nil
}

// CheckInvariants validates the structural invariants of p. Used in
// reconciliation and store read-back, never on the hot path.
func (p *Position) CheckInvariants() error {
	switch p.State {
	case StateOpen, StateOpening:
		if p.Quantity <= 0 {
			return fmt.Errorf("position %s: quantity %.8f must be > 0 while %s", p.ID, p.Quantity, p.State)
		}
	case StateClosed, StateLiquidated:
		if p.ExitPrice == 0 {
			return fmt.Errorf("position %s: %s without exit price", p.ID, p.State)
		}
	}
	if p.State != StateClosed && p.State != StateLiquidated && p.ExitPrice != 0 {
		return fmt.Errorf("position %s: exit price set while %s", p.ID, p.State)
	}
	return nil
}

// LossRatio returns the current loss as a positive fraction of entry
// notional (0 when the position is in profit). Quote pnl relative to
// margin is the leverage-adjusted variant; callers choose.
func (p *Position) LossRatio(price float64) float64 {
	if p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	var move float64
	switch p.Side {
	case SideLong:
		move = (p.EntryPrice - price) / p.EntryPrice
	case SideShort:
		move = (price - p.EntryPrice) / p.EntryPrice
	}
	if move < 0 {
		return 0
	}
	return move
}

// StopBreached reports whether price has crossed the protective stop.
func (p *Position) StopBreached(price float64) bool {
	if p.StopPrice <= 0 || price <= 0 {
		return false
	}
	switch p.Side {
	case SideLong:
		return price <= p.StopPrice
	case SideShort:
		return price >= p.StopPrice
	}
	return false
}
