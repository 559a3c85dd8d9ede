package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceSource implements Source over USD-M futures REST.
type BinanceSource struct {
	client   *futures.Client
	interval string
	limit    int
}

func NewBinanceSource(client *futures.Client, interval string, limit int) *BinanceSource {
	if limit <= 0 {
		limit = 100
	}
	return &BinanceSource{client: client, interval: strings.ToLower(strings.TrimSpace(interval)), limit: limit}
}

func (b *BinanceSource) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	kls, err := b.client.NewKlinesService().Symbol(symbol).Interval(b.interval).Limit(b.limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	candles := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		candles = append(candles, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	price, err := b.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Symbol:    symbol,
		Price:     price,
		Candles:   candles,
		FetchedAt: time.Now().UTC(),
	}
	ind, err := ComputeIndicators(candles)
	if err != nil {
		// Indicator shortfall is not fatal: the decision source still
		// receives price and raw candles.
		return snap, nil
	}
	snap.Indicators = ind
	return snap, nil
}

func (b *BinanceSource) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("no price returned for %s", symbol)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
