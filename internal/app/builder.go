package app

import (
	"context"
	"fmt"
	"time"

	vcfg "vigil/internal/config"
	"vigil/internal/decision"
	"vigil/internal/engine"
	binancegw "vigil/internal/gateway/binance"
	"vigil/internal/gateway/exchange"
	"vigil/internal/gateway/paper"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/notifier"
	"vigil/internal/portfolio"
	"vigil/internal/risk"
	"vigil/internal/store"
	"vigil/internal/store/auditlog"
	"vigil/internal/store/gormstore"
	httpapi "vigil/internal/transport/http"

	"github.com/adshao/go-binance/v2/futures"
)

// paperStartingBalance seeds the simulated venue in paper mode.
const paperStartingBalance = 10000

// AppBuilder assembles the application. Every external collaborator
// has a default constructor that an option can override, so tests and
// replay harnesses can swap pieces without touching the wiring.
type AppBuilder struct {
	cfg *vcfg.Config

	gatewayFn  func(*vcfg.Config) (exchange.Gateway, error)
	marketFn   func(*vcfg.Config) (market.Source, error)
	decisionFn func(*vcfg.Config) decision.Source
	notifierFn func(*vcfg.Config) notifier.TextNotifier
	storeFn    func(*vcfg.Config) (store.Store, error)
	auditFn    func(*vcfg.Config) (store.AuditLog, error)
	limitsFn   func(*vcfg.Config) (*risk.LimitsProvider, error)
}

type AppBuilderOption func(*AppBuilder)

func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(*vcfg.Config) (exchange.Gateway, error) { return gw, nil }
	}
}

func WithMarketSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.marketFn = func(*vcfg.Config) (market.Source, error) { return src, nil }
	}
}

func WithDecisionSource(src decision.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.decisionFn = func(*vcfg.Config) decision.Source { return src }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(*vcfg.Config) notifier.TextNotifier { return n }
	}
}

func WithStore(s store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(*vcfg.Config) (store.Store, error) { return s, nil }
	}
}

func WithAuditLog(l store.AuditLog) AppBuilderOption {
	return func(b *AppBuilder) {
		b.auditFn = func(*vcfg.Config) (store.AuditLog, error) { return l, nil }
	}
}

func WithLimits(p *risk.LimitsProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.limitsFn = func(*vcfg.Config) (*risk.LimitsProvider, error) { return p, nil }
	}
}

func NewAppBuilder(cfg *vcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		gatewayFn:  buildGateway,
		marketFn:   buildMarketSource,
		decisionFn: buildDecisionSource,
		notifierFn: buildNotifier,
		storeFn:    buildStore,
		auditFn:    buildAuditLog,
		limitsFn:   buildLimits,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	limits, err := b.limitsFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	st, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	audit, err := b.auditFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	gw, err := b.gatewayFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	mkt, err := b.marketFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("market source: %w", err)
	}
	// The simulated venue fills against the market feed; keep its
	// marks in sync.
	if pg, ok := gw.(*paper.Gateway); ok {
		mkt = &paperFeed{Source: mkt, gw: pg}
	}

	book := portfolio.NewBook(0)
	eng := engine.New(ctx, engine.Deps{
		Cycle:     cfg.Cycle,
		Staleness: time.Duration(cfg.Market.StalenessSeconds) * time.Second,
		Book:      book,
		Limits:    limits,
		Gateway:   gw,
		Market:    mkt,
		Decisions: b.decisionFn(cfg),
		Store:     st,
		Audit:     audit,
		Notifier:  b.notifierFn(cfg),
	})

	httpSrv, err := httpapi.NewServer(httpapi.Config{
		Addr:   cfg.App.HTTPAddr,
		Engine: eng,
		Store:  st,
		Audit:  audit,
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	logger.Infof("✓ assembled: venue=%s instruments=%d interval=%ds mode=%s",
		gw.Name(), len(cfg.Cycle.Instruments), cfg.Cycle.IntervalSeconds, cfg.Exchange.Mode)
	return &App{cfg: cfg, engine: eng, book: book, http: httpSrv, store: st, audit: audit}, nil
}

func buildGateway(cfg *vcfg.Config) (exchange.Gateway, error) {
	switch cfg.Exchange.Mode {
	case "paper":
		logger.Infof("gateway: paper venue, starting balance %.0f", float64(paperStartingBalance))
		return paper.New(paperStartingBalance), nil
	case "binance":
		if cfg.Exchange.Testnet {
			futures.UseTestnet = true
		}
		client := futures.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
		return binancegw.New(client), nil
	}
	return nil, fmt.Errorf("unknown exchange mode %q", cfg.Exchange.Mode)
}

func buildMarketSource(cfg *vcfg.Config) (market.Source, error) {
	// Market data is public; paper mode trades against real prices.
	client := futures.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	return market.NewBinanceSource(client, cfg.Market.KlineInterval, cfg.Market.KlineLimit), nil
}

func buildDecisionSource(cfg *vcfg.Config) decision.Source {
	return decision.NewHTTPSource(
		cfg.Decision.Endpoint,
		cfg.Decision.SourceID,
		time.Duration(cfg.Decision.TimeoutSeconds)*time.Second,
	)
}

func buildNotifier(cfg *vcfg.Config) notifier.TextNotifier {
	tg := cfg.Notify.Telegram
	if !tg.Enabled || tg.BotToken == "" || tg.ChatID == "" {
		return notifier.Nop{}
	}
	logger.Infof("notifier: telegram enabled for chat %s", tg.ChatID)
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func buildStore(cfg *vcfg.Config) (store.Store, error) {
	return gormstore.New(cfg.Store.Path)
}

func buildAuditLog(cfg *vcfg.Config) (store.AuditLog, error) {
	return auditlog.New(cfg.Store.AuditPath)
}

func buildLimits(cfg *vcfg.Config) (*risk.LimitsProvider, error) {
	p, err := risk.NewLimitsProvider(cfg.Risk.LimitsPath)
	if err != nil {
		return nil, err
	}
	if cfg.Risk.Watch {
		if err := p.Watch(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// paperFeed forwards prices it fetches into the paper venue so fills
// and resting stops track the live market.
type paperFeed struct {
	market.Source
	gw *paper.Gateway
}

func (f *paperFeed) GetSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	s, err := f.Source.GetSnapshot(ctx, symbol)
	if err == nil && s != nil {
		f.gw.SetPrice(symbol, s.Price)
	}
	return s, err
}

func (f *paperFeed) Price(ctx context.Context, symbol string) (float64, error) {
	p, err := f.Source.Price(ctx, symbol)
	if err == nil {
		f.gw.SetPrice(symbol, p)
	}
	return p, err
}
