// Package binance adapts USD-M futures to the exchange.Gateway contract.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Venue error codes that mean "nothing left to close". A duplicate
// close must surface as success, not error.
const (
	codeReduceOnlyReject = -2022
	codeNoNeedToChange   = -4046
)

type Gateway struct {
	client *futures.Client
	qtyDP  int32
}

func New(client *futures.Client) *Gateway {
	return &Gateway{client: client, qtyDP: 3}
}

func (g *Gateway) Name() string { return "binance-usdm" }

func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	side, err := orderSide(req.Side, req.ReduceOnly)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	svc := g.client.NewCreateOrderService().
		Symbol(strings.ToUpper(req.Symbol)).
		Side(side).
		Quantity(g.formatQty(req.Quantity)).
		NewClientOrderID(key)

	switch req.Type {
	case exchange.OrderTypeStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(req.StopPrice)).
			ClosePosition(true)
	case exchange.OrderTypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatPrice(req.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ReduceOnly && req.Type != exchange.OrderTypeStopMarket {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("binance order %s %s: %w", req.Symbol, req.Type, err)
	}
	return exchange.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		FilledQty:   parseFloat(resp.ExecutedQuantity),
		AvgPrice:    parseFloat(resp.AvgPrice),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, venueID, symbol, side string, quantity float64, reason string) (exchange.OrderResult, error) {
	res, err := g.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		Type:           exchange.OrderTypeMarket,
		ReduceOnly:     true,
		IdempotencyKey: closeKey(venueID),
	})
	if err != nil {
		if isAlreadyClosed(err) {
			logger.Infof("binance: duplicate close for %s (%s) collapsed to success", symbol, reason)
			return exchange.OrderResult{AlreadyClosed: true, SubmittedAt: time.Now().UTC()}, nil
		}
		return exchange.OrderResult{}, err
	}
	return res, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance cancel: bad order id %q", orderID)
	}
	_, err = g.client.NewCancelOrderService().Symbol(strings.ToUpper(symbol)).OrderID(id).Do(ctx)
	if err != nil && isUnknownOrder(err) {
		// Stop already fired or was cancelled; nothing to do.
		return nil
	}
	return err
}

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	now := time.Now().UTC()
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		out = append(out, exchange.Position{
			VenueID:       r.Symbol + "/" + side,
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      parseFloat(r.Leverage),
			UpdatedAt:     now,
		})
	}
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if b != nil && strings.EqualFold(b.Asset, "USDT") {
			return exchange.Balance{
				Asset:     b.Asset,
				Total:     parseFloat(b.Balance),
				Available: parseFloat(b.AvailableBalance),
				UpdatedAt: time.Now().UTC(),
			}, nil
		}
	}
	return exchange.Balance{}, fmt.Errorf("binance balance: no USDT asset")
}

func orderSide(side string, reduceOnly bool) (futures.SideType, error) {
	long := strings.EqualFold(strings.TrimSpace(side), "long")
	short := strings.EqualFold(strings.TrimSpace(side), "short")
	if !long && !short {
		return "", fmt.Errorf("unknown side %q", side)
	}
	// Reduce-only orders act against the exposure direction.
	if long != reduceOnly {
		return futures.SideTypeBuy, nil
	}
	return futures.SideTypeSell, nil
}

func (g *Gateway) formatQty(q float64) string {
	return decimal.NewFromFloat(q).Truncate(g.qtyDP).String()
}

func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(2).String()
}

// closeKey derives a stable idempotency key per position so retried
// closes dedupe on the venue side.
func closeKey(venueID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '-'
	}, venueID)
	return "close-" + cleaned
}

func isAlreadyClosed(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeReduceOnlyReject || apiErr.Code == codeNoNeedToChange
	}
	return false
}

func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == -2011
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
