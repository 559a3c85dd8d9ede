// Package paper is an in-process venue used for dry-run mode and tests.
// Fills are immediate at the last set price; close is idempotent the
// same way a real venue's reduce-only dedupe behaves.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"

	"github.com/google/uuid"
)

type restingStop struct {
	orderID   string
	symbol    string
	side      string
	stopPrice float64
}

type book struct {
	pos    exchange.Position
	closed bool
}

type Gateway struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions map[string]*book
	stops     map[string]restingStop
	balance   float64
	seenKeys  map[string]exchange.OrderResult

	// RejectStops makes every STOP_MARKET submission fail, simulating a
	// venue that cannot hold protective orders.
	RejectStops bool
}

func New(startingBalance float64) *Gateway {
	return &Gateway{
		prices:    make(map[string]float64),
		positions: make(map[string]*book),
		stops:     make(map[string]restingStop),
		seenKeys:  make(map[string]exchange.OrderResult),
		balance:   startingBalance,
	}
}

func (g *Gateway) Name() string { return "paper" }

// SetPrice moves the simulated market and fires any resting stops that
// the move crosses.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	g.prices[symbol] = price
	for id, stop := range g.stops {
		if stop.symbol != symbol {
			continue
		}
		crossed := (stop.side == "long" && price <= stop.stopPrice) ||
			(stop.side == "short" && price >= stop.stopPrice)
		if crossed {
			delete(g.stops, id)
			g.closeLocked(stop.symbol+"/"+stop.side, "venue stop fired")
		}
	}
}

func (g *Gateway) PriceOf(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prices[strings.ToUpper(symbol)]
}

func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prior, ok := g.seenKeys[req.IdempotencyKey]; ok {
			return prior, nil
		}
	}

	symbol := strings.ToUpper(req.Symbol)
	price := g.prices[symbol]
	if price <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("paper: no price for %s", symbol)
	}

	var res exchange.OrderResult
	switch req.Type {
	case exchange.OrderTypeStopMarket:
		if g.RejectStops {
			return exchange.OrderResult{}, fmt.Errorf("paper: venue rejected stop order for %s", symbol)
		}
		id := uuid.NewString()
		g.stops[id] = restingStop{orderID: id, symbol: symbol, side: req.Side, stopPrice: req.StopPrice}
		res = exchange.OrderResult{OrderID: id, SubmittedAt: time.Now().UTC()}
	default:
		if req.ReduceOnly {
			return g.closeLocked(symbol+"/"+req.Side, "reduce-only order"), nil
		}
		venueID := symbol + "/" + req.Side
		g.positions[venueID] = &book{pos: exchange.Position{
			VenueID:    venueID,
			Symbol:     symbol,
			Side:       req.Side,
			Quantity:   req.Quantity,
			EntryPrice: price,
			MarkPrice:  price,
			UpdatedAt:  time.Now().UTC(),
		}}
		res = exchange.OrderResult{
			OrderID:      uuid.NewString(),
			VenueTradeID: venueID,
			FilledQty:    req.Quantity,
			AvgPrice:     price,
			SubmittedAt:  time.Now().UTC(),
		}
	}
	if req.IdempotencyKey != "" {
		g.seenKeys[req.IdempotencyKey] = res
	}
	return res, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, venueID, symbol, side string, quantity float64, reason string) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if venueID == "" {
		venueID = strings.ToUpper(symbol) + "/" + side
	}
	return g.closeLocked(venueID, reason), nil
}

func (g *Gateway) closeLocked(venueID, reason string) exchange.OrderResult {
	b, ok := g.positions[venueID]
	if !ok || b.closed {
		return exchange.OrderResult{AlreadyClosed: true, SubmittedAt: time.Now().UTC()}
	}
	b.closed = true
	price := g.prices[b.pos.Symbol]
	pnl := fillPnL(b.pos, price)
	g.balance += pnl
	logger.Debugf("paper: closed %s at %.4f pnl=%.4f (%s)", venueID, price, pnl, reason)
	return exchange.OrderResult{
		OrderID:     uuid.NewString(),
		FilledQty:   b.pos.Quantity,
		AvgPrice:    price,
		SubmittedAt: time.Now().UTC(),
	}
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stops, orderID)
	return nil
}

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []exchange.Position
	for _, b := range g.positions {
		if b.closed {
			continue
		}
		p := b.pos
		p.MarkPrice = g.prices[p.Symbol]
		p.UnrealizedPnL = fillPnL(p, p.MarkPrice)
		out = append(out, p)
	}
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Balance{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return exchange.Balance{Asset: "USDT", Total: g.balance, Available: g.balance, UpdatedAt: time.Now().UTC()}, nil
}

// OpenCount reports live positions; used by tests.
func (g *Gateway) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, b := range g.positions {
		if !b.closed {
			n++
		}
	}
	return n
}

func fillPnL(p exchange.Position, price float64) float64 {
	if price <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	diff := price - p.EntryPrice
	if p.Side == "short" {
		diff = -diff
	}
	return diff * p.Quantity
}
