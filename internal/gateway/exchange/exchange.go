// Package exchange defines the execution-venue abstraction. All calls
// are safely retryable: each logical order carries an idempotency key,
// and a duplicate close is reported as success with AlreadyClosed set.
package exchange

import (
	"context"
	"time"
)

// OrderType for venue orders.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderRequest describes one logical order.
type OrderRequest struct {
	Symbol         string
	Side           string // "long" or "short" exposure direction
	Quantity       float64
	Type           OrderType
	Price          float64 // limit price, 0 for market
	StopPrice      float64 // trigger for STOP_MARKET
	ReduceOnly     bool
	IdempotencyKey string // client order id; venue dedupes on it
}

// OrderResult is the venue's answer for an order or close request.
type OrderResult struct {
	OrderID       string
	VenueTradeID  string
	FilledQty     float64
	AvgPrice      float64
	AlreadyClosed bool // duplicate close collapsed to success
	SubmittedAt   time.Time
}

// Position is the venue's authoritative view of one open position.
type Position struct {
	VenueID       string
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
	UpdatedAt     time.Time
}

// Balance of the futures account.
type Balance struct {
	Asset     string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

// Gateway is the execution venue contract consumed by the orchestrator
// and the protective monitors.
type Gateway interface {
	Name() string

	// SubmitOrder places an entry or protective order.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// ClosePosition flattens the position at market. Idempotent: a
	// close for an already-closed or already-closing position returns
	// OrderResult{AlreadyClosed: true} and a nil error.
	ClosePosition(ctx context.Context, venueID, symbol, side string, quantity float64, reason string) (OrderResult, error)

	// CancelOrder cancels a resting order (venue-native stops).
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// ListOpenPositions returns the venue's view for reconciliation.
	ListOpenPositions(ctx context.Context) ([]Position, error)

	GetBalance(ctx context.Context) (Balance, error)
}
