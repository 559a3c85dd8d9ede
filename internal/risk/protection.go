package risk

import (
	"context"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/position"
)

// PositionReader re-reads the current position state. Monitors call it
// at every wake; they never cache state from task start.
type PositionReader interface {
	Get(id string) (position.Position, bool)
}

// PriceReader returns the latest instrument price.
type PriceReader interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// ForceCloser flattens a position at market. Implementations must be
// idempotent: a close for a position already closing or closed returns
// nil, so racing layers cannot turn a duplicate into a failure.
type ForceCloser interface {
	ForceClose(ctx context.Context, positionID, reason string) error
}

// Handle cancels one position's monitor pair as a unit. Cancel is
// idempotent; double-cancellation is a no-op.
type Handle struct {
	positionID string
	cancel     context.CancelFunc
	once       sync.Once
	done       sync.WaitGroup
	registry   *ProtectionRegistry
}

// Cancel tears down both monitors atomically and blocks until they
// have exited, guaranteeing no further orders from this pair.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		h.done.Wait()
		h.registry.reap(h)
		logger.Infof("risk: protection cancelled for position %s", h.positionID)
	})
}

// ProtectionRegistry supervises the layer-2 and layer-3 monitors, at
// most one pair per open position. Layer 1 (the venue-native stop) is
// placed by the orchestrator at open time and needs no polling here.
type ProtectionRegistry struct {
	mu        sync.Mutex
	active    map[string]*Handle
	rootCtx   context.Context
	positions PositionReader
	prices    PriceReader
	closer    ForceCloser
	limits    *LimitsProvider
}

func NewProtectionRegistry(ctx context.Context, positions PositionReader, prices PriceReader, closer ForceCloser, limits *LimitsProvider) *ProtectionRegistry {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ProtectionRegistry{
		active:    make(map[string]*Handle),
		rootCtx:   ctx,
		positions: positions,
		prices:    prices,
		closer:    closer,
		limits:    limits,
	}
}

// Start activates the monitor pair for positionID. If a pair is
// already running the existing handle is returned, keeping the
// at-most-one guarantee.
func (r *ProtectionRegistry) Start(positionID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.active[positionID]; ok {
		return h
	}
	ctx, cancel := context.WithCancel(r.rootCtx)
	h := &Handle{positionID: positionID, cancel: cancel, registry: r}
	r.active[positionID] = h

	limits := r.limits.Current()
	h.done.Add(2)
	go r.runLayer2(ctx, h, limits.Layer2Interval())
	go r.runLayer3(ctx, h, limits.Layer3Interval(), limits.EmergencyLossPct)
	// Monitors also stop on their own when the position leaves OPEN;
	// reap the handle then so the registry never holds dead pairs.
	go func() {
		h.done.Wait()
		cancel()
		r.reap(h)
	}()
	logger.Infof("risk: protection started for position %s (layer2=%s layer3=%s)",
		positionID, limits.Layer2Interval(), limits.Layer3Interval())
	return h
}

// CancelFor tears down the pair for positionID if one is active.
func (r *ProtectionRegistry) CancelFor(positionID string) {
	r.mu.Lock()
	h := r.active[positionID]
	r.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// reap removes h only if it is still the registered pair, so a stale
// handle can never evict a successor started for the same position.
func (r *ProtectionRegistry) reap(h *Handle) {
	r.mu.Lock()
	if r.active[h.positionID] == h {
		delete(r.active, h.positionID)
	}
	r.mu.Unlock()
}

// ActiveCount reports running monitor pairs.
func (r *ProtectionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// currentOpen re-reads the position at wake time. Monitors for a
// position that has left OPEN stop silently; the pair is reaped via
// the handle by whichever side notices first.
func (r *ProtectionRegistry) currentOpen(positionID string) (position.Position, bool) {
	p, ok := r.positions.Get(positionID)
	if !ok || p.State != position.StateOpen {
		return position.Position{}, false
	}
	return p, true
}

// runLayer2 covers venue-side stop failure: if price crosses the stop
// and the venue order has not fired, close at market ourselves.
func (r *ProtectionRegistry) runLayer2(ctx context.Context, h *Handle, every time.Duration) {
	defer h.done.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, ok := r.currentOpen(h.positionID)
		if !ok {
			return
		}
		price, err := r.fetchPrice(ctx, p.Symbol, every)
		if err != nil {
			logger.Warnf("risk: layer2 price fetch failed for %s: %v", p.Symbol, err)
			continue
		}
		if p.StopBreached(price) {
			logger.Warnf("risk: layer2 stop breach %s price=%.4f stop=%.4f, forcing close", p.Symbol, price, p.StopPrice)
			if err := r.closer.ForceClose(ctx, h.positionID, "layer2: stop breached, venue stop not confirmed"); err != nil {
				logger.Errorf("risk: layer2 force close failed for %s: %v", h.positionID, err)
			}
		}
	}
}

// runLayer3 is the last line of defense: close unconditionally once
// loss exceeds the emergency threshold, regardless of layers 1 and 2.
func (r *ProtectionRegistry) runLayer3(ctx context.Context, h *Handle, every time.Duration, emergencyPct float64) {
	defer h.done.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, ok := r.currentOpen(h.positionID)
		if !ok {
			return
		}
		price, err := r.fetchPrice(ctx, p.Symbol, every)
		if err != nil {
			logger.Warnf("risk: layer3 price fetch failed for %s: %v", p.Symbol, err)
			continue
		}
		if loss := p.LossRatio(price); loss >= emergencyPct {
			logger.Errorf("risk: layer3 EMERGENCY %s loss=%.2f%% >= %.2f%%, forcing close", p.Symbol, loss*100, emergencyPct*100)
			if err := r.closer.ForceClose(ctx, h.positionID, "layer3: emergency loss threshold"); err != nil {
				logger.Errorf("risk: layer3 force close failed for %s: %v", h.positionID, err)
			}
		}
	}
}

func (r *ProtectionRegistry) fetchPrice(ctx context.Context, symbol string, budget time.Duration) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return r.prices.Price(callCtx, symbol)
}
