package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vigil/internal/config"
	"vigil/internal/decision"
	"vigil/internal/gateway/exchange"
	"vigil/internal/gateway/paper"
	"vigil/internal/market"
	"vigil/internal/portfolio"
	"vigil/internal/position"
	"vigil/internal/risk"
	"vigil/internal/store"
	"vigil/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: make(map[string]float64), fail: make(map[string]error)}
}

func (m *fakeMarket) set(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

func (m *fakeMarket) failWith(symbol string, err error) {
	m.mu.Lock()
	m.fail[symbol] = err
	m.mu.Unlock()
}

func (m *fakeMarket) GetSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[symbol]; ok {
		return nil, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &market.Snapshot{Symbol: symbol, Price: p, FetchedAt: time.Now().UTC()}, nil
}

func (m *fakeMarket) Price(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

type scriptedSource struct {
	mu sync.Mutex
	fn func(req decision.Request) (decision.Decision, error)
}

func (s *scriptedSource) set(fn func(req decision.Request) (decision.Decision, error)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *scriptedSource) Generate(ctx context.Context, req decision.Request) (decision.Decision, error) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	return fn(req)
}

func hold(req decision.Request) (decision.Decision, error) {
	return decision.Decision{Symbol: req.Symbol, Action: decision.ActionHold, Confidence: 0.9}, nil
}

type memoNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *memoNotifier) SendText(s string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, s)
	n.mu.Unlock()
	return nil
}

func (n *memoNotifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type rig struct {
	engine *Engine
	gw     *paper.Gateway
	mkt    *fakeMarket
	book   *portfolio.Book
	src    *scriptedSource
	notes  *memoNotifier
}

func newRig(t *testing.T, instruments []string, st store.Store) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mkt := newFakeMarket()
	gw := paper.New(10000)
	src := &scriptedSource{fn: hold}
	notes := &memoNotifier{}
	book := portfolio.NewBook(10000)
	limits := risk.StaticLimits(risk.Limits{Layer2PollMS: 30, Layer3PollMS: 20})

	e := New(ctx, Deps{
		Cycle: config.CycleConfig{
			Instruments:        instruments,
			DataDeadlineMS:     500,
			DecisionDeadlineMS: 500,
			ExecuteDeadlineMS:  1000,
		},
		Staleness: 30 * time.Second,
		Book:      book,
		Limits:    limits,
		Gateway:   gw,
		Market:    mkt,
		Decisions: src,
		Store:     st,
		Notifier:  notes,
	})
	return &rig{engine: e, gw: gw, mkt: mkt, book: book, src: src, notes: notes}
}

func paperOpen(symbol, side string, qty float64) exchange.OrderRequest {
	return exchange.OrderRequest{Symbol: symbol, Side: side, Quantity: qty, Type: exchange.OrderTypeMarket}
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	require.NoError(t, r.engine.Machine().To(ProcRunning, "test"))
}

func TestCycleSkippedBeforeRunning(t *testing.T) {
	r := newRig(t, nil, nil)
	res := r.engine.RunCycle(context.Background())
	assert.Equal(t, CycleSkipped, res.Status)
	assert.Equal(t, "process-state: INITIALIZING", res.Reason)
}

func TestOneInstrumentFailureIsIsolated(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT"}
	r := newRig(t, symbols, nil)
	r.start(t)
	for _, s := range symbols {
		r.mkt.set(s, 100)
	}
	r.mkt.failWith("SOLUSDT", context.DeadlineExceeded)

	res := r.engine.RunCycle(context.Background())

	assert.Equal(t, CycleCompleted, res.Status)
	assert.Equal(t, 5, res.Generated, "the five healthy instruments still produce decisions")
	require.Len(t, res.Outcomes, 6)
	for _, out := range res.Outcomes {
		if out.Symbol == "SOLUSDT" {
			require.NotNil(t, out.Outcome.NoDecision)
			assert.Equal(t, decision.SkipDataUnavailable, out.Outcome.NoDecision.Reason)
			continue
		}
		assert.NotNil(t, out.Outcome.Decision, "%s must have decided", out.Symbol)
	}
}

func TestEntryDuplicateAndExit(t *testing.T) {
	r := newRig(t, []string{"BTCUSDT"}, nil)
	r.start(t)
	r.mkt.set("BTCUSDT", 50000)
	r.gw.SetPrice("BTCUSDT", 50000)

	enter := func(req decision.Request) (decision.Decision, error) {
		return decision.Decision{
			Symbol:       req.Symbol,
			Action:       decision.ActionEnterLong,
			Confidence:   0.9,
			SizeFraction: 0.05,
			Leverage:     2,
			StopLossPct:  0.02,
		}, nil
	}

	r.src.set(enter)
	res := r.engine.RunCycle(context.Background())
	require.Equal(t, 1, res.Executed)
	pid := res.Outcomes[0].PositionID
	require.NotEmpty(t, pid)

	p, ok := r.book.Get(pid)
	require.True(t, ok)
	assert.Equal(t, position.StateOpen, p.State)
	assert.InDelta(t, 50000, p.EntryPrice, 1e-9)
	assert.InDelta(t, 49000, p.StopPrice, 1e-6)
	assert.InDelta(t, 500.0/50000, p.Quantity, 1e-9)
	assert.Equal(t, 1, r.gw.OpenCount())
	assert.Equal(t, 1, r.engine.Protection().ActiveCount())

	// A second entry for the same instrument is a duplicate.
	res = r.engine.RunCycle(context.Background())
	require.Equal(t, 1, res.Rejected)
	require.NotNil(t, res.Outcomes[0].Validation)
	assert.Equal(t, risk.ReasonDuplicateEntry, res.Outcomes[0].Validation.Reason)

	r.src.set(func(req decision.Request) (decision.Decision, error) {
		return decision.Decision{Symbol: req.Symbol, Action: decision.ActionExit, Confidence: 0.9}, nil
	})
	res = r.engine.RunCycle(context.Background())
	require.Equal(t, 1, res.Executed)

	p, _ = r.book.Get(pid)
	assert.Equal(t, position.StateClosed, p.State)
	assert.Equal(t, 0, r.gw.OpenCount())
	assert.Eventually(t, func() bool { return r.engine.Protection().ActiveCount() == 0 },
		2*time.Second, 10*time.Millisecond, "monitors torn down after close")
	assert.InDelta(t, 0, r.engine.Snapshot().DailyRealizedPnL, 1e-9, "flat close books zero")
}

// A −7.1% day against the −7.0% threshold: layer-2 closes the breached
// position (the venue refused the stop order), the realized loss trips
// the breaker, and with zero open positions it lands in AWAITING_RESET
// until the operator resets it.
func TestDailyLossTripEndToEnd(t *testing.T) {
	r := newRig(t, []string{"BTCUSDT"}, nil)
	r.start(t)
	r.gw.RejectStops = true
	r.mkt.set("BTCUSDT", 50000)
	r.gw.SetPrice("BTCUSDT", 50000)

	r.src.set(func(req decision.Request) (decision.Decision, error) {
		return decision.Decision{
			Symbol:       req.Symbol,
			Action:       decision.ActionEnterLong,
			Confidence:   0.9,
			SizeFraction: 0.10,
			Leverage:     2,
			StopLossPct:  0.02,
		}, nil
	})
	res := r.engine.RunCycle(context.Background())
	require.Equal(t, 1, res.Executed)
	pid := res.Outcomes[0].PositionID
	assert.True(t, r.notes.contains("venue stop rejected"), "stop rejection escalates, never silently dropped")

	// Stake 1000 at 50000 is qty 0.02; 14500 puts the loss at −710 on a
	// 10000 account, past the −700 daily threshold.
	r.mkt.set("BTCUSDT", 14500)
	r.gw.SetPrice("BTCUSDT", 14500)

	require.Eventually(t, func() bool {
		p, _ := r.book.Get(pid)
		return p.State == position.StateClosed
	}, 5*time.Second, 10*time.Millisecond, "layer-2 must force-close within its poll interval")

	require.Eventually(t, func() bool {
		return r.engine.Breaker().State() == risk.CircuitAwaitingReset
	}, 5*time.Second, 10*time.Millisecond, "breaker reaches AWAITING_RESET at zero open positions")
	require.Eventually(t, func() bool {
		return r.engine.Machine().State() == ProcSafeMode
	}, 5*time.Second, 10*time.Millisecond)

	trip, ok := r.engine.Breaker().LastTrip()
	require.True(t, ok)
	assert.InDelta(t, -710, trip.PnL, 1e-6)
	assert.InDelta(t, -710, r.engine.Snapshot().DailyRealizedPnL, 1e-6)

	// Even back in RUNNING the breaker still gates the cycle.
	require.NoError(t, r.engine.Resume("test"))
	res = r.engine.RunCycle(context.Background())
	assert.Equal(t, CycleSkipped, res.Status)
	assert.Equal(t, "circuit-breaker: AWAITING_RESET", res.Reason)

	// Only the operator re-arms.
	require.NoError(t, r.engine.ResetBreaker("ops"))
	assert.Equal(t, risk.CircuitArmed, r.engine.Breaker().State())
	r.src.set(hold)
	res = r.engine.RunCycle(context.Background())
	assert.Equal(t, CycleCompleted, res.Status)
}

func TestForceCloseIsIdempotent(t *testing.T) {
	r := newRig(t, nil, nil)
	r.start(t)
	r.mkt.set("ETHUSDT", 3000)
	r.gw.SetPrice("ETHUSDT", 3000)

	p := position.New("ETHUSDT", position.SideLong, 0.5, 1)
	require.NoError(t, r.book.Track(p))
	require.NoError(t, p.Transition(position.StateOpening, "test"))
	require.NoError(t, p.Transition(position.StateOpen, "test"))
	p.EntryPrice = 3000
	p.VenueID = "ETHUSDT/long"

	require.NoError(t, r.engine.ForceClose(context.Background(), p.ID, "first close"))
	require.NoError(t, r.engine.ForceClose(context.Background(), p.ID, "racing close"),
		"duplicate close must be success, not error")

	got, _ := r.book.Get(p.ID)
	assert.Equal(t, position.StateClosed, got.State)
}

func TestReconcileTrustsVenue(t *testing.T) {
	r := newRig(t, nil, nil)
	r.start(t)

	// Locally open, unknown at the venue: the venue wins and we alert.
	p := position.New("ETHUSDT", position.SideLong, 0.5, 1)
	require.NoError(t, r.book.Track(p))
	require.NoError(t, p.Transition(position.StateOpening, "test"))
	require.NoError(t, p.Transition(position.StateOpen, "test"))
	p.EntryPrice = 3000
	p.VenueID = "ETHUSDT/long"

	res := r.engine.RunCycle(context.Background())
	assert.Equal(t, 1, res.Errors)
	got, _ := r.book.Get(p.ID)
	assert.Equal(t, position.StateClosed, got.State)
	assert.True(t, r.notes.contains("missing at venue"))
}

func TestReconcileRecordsVenueLiquidation(t *testing.T) {
	r := newRig(t, nil, nil)
	r.start(t)

	// A losing position gone from the venue was liquidated, not closed.
	p := position.New("ETHUSDT", position.SideLong, 0.5, 1)
	require.NoError(t, r.book.Track(p))
	require.NoError(t, p.Transition(position.StateOpening, "test"))
	require.NoError(t, p.Transition(position.StateOpen, "test"))
	p.EntryPrice = 3000
	p.UnrealizedPnL = -150
	p.VenueID = "ETHUSDT/long"

	res := r.engine.RunCycle(context.Background())
	assert.Equal(t, 1, res.Errors)

	got, _ := r.book.Get(p.ID)
	assert.Equal(t, position.StateLiquidated, got.State)
	assert.InDelta(t, 2700, got.ExitPrice, 1e-6, "exit implied from the last mark")
	assert.NoError(t, got.CheckInvariants())
	assert.InDelta(t, -150, r.engine.Snapshot().DailyRealizedPnL, 1e-9, "liquidation loss counts against the day")
	assert.True(t, r.notes.contains("LIQUIDATED"))
}

func TestEmergencyStopFlattensAndParks(t *testing.T) {
	r := newRig(t, []string{"BTCUSDT"}, nil)
	r.start(t)
	r.mkt.set("BTCUSDT", 50000)
	r.gw.SetPrice("BTCUSDT", 50000)
	r.src.set(func(req decision.Request) (decision.Decision, error) {
		return decision.Decision{
			Symbol:       req.Symbol,
			Action:       decision.ActionEnterLong,
			Confidence:   0.9,
			SizeFraction: 0.05,
			Leverage:     2,
			StopLossPct:  0.02,
		}, nil
	})

	res := r.engine.RunCycle(context.Background())
	require.Equal(t, 1, res.Executed)
	pid := res.Outcomes[0].PositionID

	require.NoError(t, r.engine.EmergencyStop(context.Background(), "venue anomaly"))
	assert.Equal(t, ProcEmergencyStop, r.engine.Machine().State())
	got, _ := r.book.Get(pid)
	assert.Equal(t, position.StateClosed, got.State, "emergency stop flattens open positions")
	assert.True(t, r.notes.contains("EMERGENCY STOP"))

	res = r.engine.RunCycle(context.Background())
	assert.Equal(t, CycleSkipped, res.Status)
	assert.Equal(t, "process-state: EMERGENCY_STOP", res.Reason)

	// Recovery runs through MAINTENANCE before trading resumes.
	r.src.set(hold)
	require.NoError(t, r.engine.Maintenance("post-incident checks"))
	assert.Equal(t, ProcMaintenance, r.engine.Machine().State())
	require.NoError(t, r.engine.Resume("checks passed"))
	res = r.engine.RunCycle(context.Background())
	assert.Equal(t, CycleCompleted, res.Status)
}

func TestReconcileAdoptsUntrackedVenuePosition(t *testing.T) {
	r := newRig(t, nil, nil)
	r.start(t)
	r.mkt.set("BTCUSDT", 40000)
	r.gw.SetPrice("BTCUSDT", 40000)
	_, err := r.gw.SubmitOrder(context.Background(), paperOpen("BTCUSDT", "long", 0.01))
	require.NoError(t, err)

	res := r.engine.RunCycle(context.Background())
	assert.Equal(t, 1, res.Errors)
	assert.True(t, r.notes.contains("adopting"))

	snap := r.engine.Snapshot()
	require.Len(t, snap.OpenPositions(), 1)
	adopted := snap.OpenPositions()[0]
	assert.Equal(t, "BTCUSDT", adopted.Symbol)
	assert.Equal(t, "BTCUSDT/long", adopted.VenueID)
	assert.Equal(t, 1, r.engine.Protection().ActiveCount())
}

func TestRecoverRebuildsFromStoreAndVenue(t *testing.T) {
	st, err := gormstore.New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	p := position.New("BTCUSDT", position.SideLong, 0.02, 2)
	require.NoError(t, p.Transition(position.StateOpening, "decision accepted"))
	require.NoError(t, p.Transition(position.StateOpen, "fill confirmed"))
	p.EntryPrice = 50000
	p.StopPrice = 49000
	p.VenueID = "BTCUSDT/long"
	require.NoError(t, st.SavePosition(ctx, *p))
	require.NoError(t, st.SaveSnapshot(ctx, store.SnapshotRecord{
		Balance: 9950, DailyRealized: -50, TakenAt: time.Now().UTC(),
	}))

	r := newRig(t, nil, st)
	r.mkt.set("BTCUSDT", 50000)
	r.gw.SetPrice("BTCUSDT", 50000)
	_, err = r.gw.SubmitOrder(ctx, paperOpen("BTCUSDT", "long", 0.02))
	require.NoError(t, err)

	require.NoError(t, r.engine.Recover(ctx))

	assert.Equal(t, ProcRunning, r.engine.Machine().State())
	got, ok := r.book.Get(p.ID)
	require.True(t, ok, "persisted position must be tracked again")
	assert.Equal(t, position.StateOpen, got.State)
	assert.Len(t, got.History, 2)
	assert.Equal(t, 1, r.engine.Protection().ActiveCount())

	snap := r.engine.Snapshot()
	assert.InDelta(t, -50, snap.DailyRealizedPnL, 1e-9)
	assert.InDelta(t, 10000, snap.Balance, 1e-9, "venue balance wins over the persisted one")
}
