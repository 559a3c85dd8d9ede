// Package engine is the cycle orchestrator: it owns the process state
// machine, drives one end-to-end trading cycle at a time and reacts to
// circuit-breaker trips and collaborator outages.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"vigil/internal/config"
	"vigil/internal/decision"
	"vigil/internal/gateway/exchange"
	"vigil/internal/logger"
	"vigil/internal/market"
	"vigil/internal/notifier"
	"vigil/internal/pkg/circuit"
	"vigil/internal/pkg/retry"
	"vigil/internal/portfolio"
	"vigil/internal/position"
	"vigil/internal/risk"
	"vigil/internal/store"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"
)

// Deps carries the orchestrator's collaborators. Store, Audit and
// Notifier are optional; the rest are required.
type Deps struct {
	Cycle     config.CycleConfig
	Staleness time.Duration
	Book      *portfolio.Book
	Limits    *risk.LimitsProvider
	Gateway   exchange.Gateway
	Market    market.Source
	Decisions decision.Source
	Store     store.Store
	Audit     store.AuditLog
	Notifier  notifier.TextNotifier
}

// Engine drives the trading cycle. One RunCycle executes at a time
// (the scheduler guarantees it); the protective monitors call back in
// concurrently through ForceClose.
type Engine struct {
	cfg       config.CycleConfig
	staleness time.Duration

	book      *portfolio.Book
	limits    *risk.LimitsProvider
	gateway   exchange.Gateway
	market    market.Source
	decisions decision.Source
	store     store.Store
	audit     store.AuditLog
	notify    notifier.TextNotifier

	machine    *Machine
	breaker    *risk.Breaker
	protection *risk.ProtectionRegistry

	gatewayCB  *circuit.Breaker
	decisionCB *circuit.Breaker

	cycleSeq atomic.Int64
}

func New(ctx context.Context, d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = notifier.Nop{}
	}
	e := &Engine{
		cfg:       d.Cycle,
		staleness: d.Staleness,
		book:      d.Book,
		limits:    d.Limits,
		gateway:   d.Gateway,
		market:    d.Market,
		decisions: d.Decisions,
		store:     d.Store,
		audit:     d.Audit,
		notify:    d.Notifier,
		machine:   NewMachine(),
	}
	e.breaker = risk.NewBreaker(e.onBreakerTrip)
	e.protection = risk.NewProtectionRegistry(ctx, d.Book, d.Market, e, d.Limits)
	e.gatewayCB = circuit.NewBreaker("gateway", 3, 30*time.Second)
	e.decisionCB = circuit.NewBreaker("decision-source", 5, time.Minute)
	e.gatewayCB.OnStateChange(e.onGatewayCircuit)
	return e
}

func (e *Engine) Machine() *Machine                    { return e.machine }
func (e *Engine) Breaker() *risk.Breaker               { return e.breaker }
func (e *Engine) Protection() *risk.ProtectionRegistry { return e.protection }
func (e *Engine) Snapshot() portfolio.Snapshot         { return e.book.Snapshot() }

func (e *Engine) dataDeadline() time.Duration {
	if e.cfg.DataDeadlineMS > 0 {
		return time.Duration(e.cfg.DataDeadlineMS) * time.Millisecond
	}
	return 2 * time.Second
}

func (e *Engine) decisionDeadline() time.Duration {
	if e.cfg.DecisionDeadlineMS > 0 {
		return time.Duration(e.cfg.DecisionDeadlineMS) * time.Millisecond
	}
	return time.Second
}

func (e *Engine) executeDeadline() time.Duration {
	if e.cfg.ExecuteDeadlineMS > 0 {
		return time.Duration(e.cfg.ExecuteDeadlineMS) * time.Millisecond
	}
	return 10 * time.Second
}

// RunCycle executes one full cycle and always records a CycleResult,
// even when the cycle is skipped.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		CycleID:   fmt.Sprintf("cycle-%06d", e.cycleSeq.Add(1)),
		Status:    CycleCompleted,
		StartedAt: time.Now().UTC(),
	}

	if st := e.machine.State(); st != ProcRunning {
		res.Status = CycleSkipped
		res.Reason = "process-state: " + string(st)
		return e.finish(ctx, res)
	}
	if st := e.breaker.State(); st != risk.CircuitArmed {
		res.Status = CycleSkipped
		res.Reason = "circuit-breaker: " + string(st)
		return e.finish(ctx, res)
	}

	snap := e.book.Snapshot()
	portfolioJSON, err := json.Marshal(snap)
	if err != nil {
		logger.Errorf("engine: marshal portfolio snapshot: %v", err)
	}

	// Per-instrument fetch+decide fan-out; joined before validation so
	// cycle latency is bounded by the slowest instrument, not the sum.
	instruments := e.cfg.Instruments
	outcomes := make([]InstrumentOutcome, len(instruments))
	fanCtx, cancel := context.WithTimeout(ctx, e.dataDeadline()+e.decisionDeadline())
	g, gctx := errgroup.WithContext(fanCtx)
	for i, sym := range instruments {
		i, sym := i, sym
		g.Go(func() error {
			outcomes[i] = e.decideInstrument(gctx, sym, portfolioJSON)
			return nil
		})
	}
	_ = g.Wait()
	cancel()

	opened := 0
	for i := range outcomes {
		e.applyOutcome(ctx, &outcomes[i], &res, &opened)
	}
	res.Outcomes = outcomes

	if n := e.reconcile(ctx); n > 0 {
		res.Errors += n
	}
	return e.finish(ctx, res)
}

// decideInstrument performs the market fetch and the decision call for
// one instrument. Any failure degrades to an explicit NoDecision for
// this instrument only.
func (e *Engine) decideInstrument(ctx context.Context, symbol string, portfolioJSON []byte) InstrumentOutcome {
	out := InstrumentOutcome{Symbol: symbol}

	dctx, cancel := context.WithTimeout(ctx, e.dataDeadline())
	snap, err := e.market.GetSnapshot(dctx, symbol)
	cancel()
	if err == nil {
		err = market.CheckFreshness(snap, e.staleness, time.Now())
	}
	if err != nil {
		logger.Warnf("engine: market data unavailable for %s: %v", symbol, err)
		out.Outcome = decision.Skipped(symbol, decision.SkipDataUnavailable, err.Error())
		return out
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		out.Outcome = decision.Skipped(symbol, decision.SkipDataUnavailable, err.Error())
		return out
	}

	if !e.decisionCB.Allow() {
		out.Outcome = decision.Skipped(symbol, decision.SkipSourceError, "decision source circuit open")
		return out
	}
	cctx, cancel := context.WithTimeout(ctx, e.decisionDeadline())
	d, err := e.decisions.Generate(cctx, decision.Request{Symbol: symbol, Snapshot: snapJSON, Portfolio: portfolioJSON})
	cancel()
	if err != nil {
		if errors.Is(err, decision.ErrSource) || errors.Is(err, context.DeadlineExceeded) {
			e.decisionCB.Failure()
		}
		reason := classifySkip(err)
		logger.Warnf("engine: no decision for %s (%s): %v", symbol, reason, err)
		out.Outcome = decision.Skipped(symbol, reason, err.Error())
		return out
	}
	e.decisionCB.Success()
	out.Outcome = decision.Decided(d)
	return out
}

func classifySkip(err error) decision.SkipReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return decision.SkipTimeout
	}
	if errors.Is(err, decision.ErrSource) {
		return decision.SkipSourceError
	}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return decision.SkipSchemaViolation
	}
	return decision.SkipMalformed
}

// applyOutcome runs validation and execution for one instrument's
// outcome, updating the cycle counters in place.
func (e *Engine) applyOutcome(ctx context.Context, out *InstrumentOutcome, res *CycleResult, opened *int) {
	if out.Outcome.Decision == nil {
		return
	}
	res.Generated++
	d := *out.Outcome.Decision

	switch d.Action {
	case decision.ActionHold:
		return
	case decision.ActionExit:
		if err := e.exitSymbol(ctx, d.Symbol, "exit decision"); err != nil {
			out.Error = err.Error()
			res.Errors++
			return
		}
		res.Executed++
		return
	}

	if max := e.cfg.MaxOpensPerCycle; max > 0 && *opened >= max {
		v := risk.Validation{
			Reason: risk.ReasonOpenBudget,
			Detail: fmt.Sprintf("per-cycle open budget %d exhausted", max),
		}
		out.Validation = &v
		res.Rejected++
		return
	}

	// Entry path: always validated against a fresh snapshot so the
	// previous execution's exposure is visible.
	fresh := e.book.Snapshot()
	if live, ok := liveForSymbol(fresh, d.Symbol); ok {
		v := risk.Validation{
			Reason: risk.ReasonDuplicateEntry,
			Detail: fmt.Sprintf("position %s already %s on %s", live.ID, live.State, d.Symbol),
		}
		out.Validation = &v
		res.Rejected++
		logger.Infof("engine: %s entry rejected (%s): %s", d.Symbol, v.Reason, v.Detail)
		return
	}
	v := risk.ValidatePreTrade(d, fresh, e.limits.Current(), e.breaker.State())
	out.Validation = &v
	if !v.Approved {
		res.Rejected++
		logger.Infof("engine: %s entry rejected (%s): %s", d.Symbol, v.Reason, v.Detail)
		return
	}
	pid, err := e.openPosition(ctx, d, v)
	if err != nil {
		out.Error = err.Error()
		res.Errors++
		return
	}
	out.PositionID = pid
	res.Executed++
	*opened++
}

func liveForSymbol(snap portfolio.Snapshot, symbol string) (position.Position, bool) {
	for _, p := range snap.Positions {
		if p.Symbol == symbol && !p.State.Terminal() {
			return p, true
		}
	}
	return position.Position{}, false
}

// openPosition executes one approved entry: market order, fill
// confirmation, layer-1 venue stop, protective monitors.
func (e *Engine) openPosition(ctx context.Context, d decision.Decision, v risk.Validation) (string, error) {
	side := position.SideLong
	if d.Action == decision.ActionEnterShort {
		side = position.SideShort
	}
	limits := e.limits.Current()
	leverage := d.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	execCtx, cancel := context.WithTimeout(ctx, e.executeDeadline())
	defer cancel()

	price, err := e.market.Price(execCtx, d.Symbol)
	if err != nil || price <= 0 {
		return "", fmt.Errorf("no executable price for %s: %w", d.Symbol, err)
	}
	qty := v.ApprovedStake / price

	p := position.New(d.Symbol, side, qty, leverage)
	if err := e.book.Track(p); err != nil {
		return "", err
	}
	id := p.ID
	if _, err := e.transition(ctx, id, position.StateOpening, "decision accepted"); err != nil {
		return "", err
	}

	if !e.gatewayCB.Allow() {
		_, _ = e.transition(ctx, id, position.StateFailed, "gateway circuit open")
		return "", fmt.Errorf("gateway circuit open, entry for %s refused", d.Symbol)
	}
	orderRes, err := e.gateway.SubmitOrder(execCtx, exchange.OrderRequest{
		Symbol:         p.Symbol,
		Side:           string(side),
		Quantity:       qty,
		Type:           exchange.OrderTypeMarket,
		IdempotencyKey: "open-" + id,
	})
	if err != nil {
		e.gatewayCB.Failure()
		_, _ = e.transition(ctx, id, position.StateFailed, "order rejected: "+err.Error())
		return "", fmt.Errorf("submit entry for %s: %w", p.Symbol, err)
	}
	e.gatewayCB.Success()

	entry := orderRes.AvgPrice
	if entry <= 0 {
		entry = price
	}
	stopPct := d.StopLossPct
	if stopPct <= 0 {
		stopPct = limits.DefaultStopLossPct
	}
	stop := entry * (1 - stopPct)
	if side == position.SideShort {
		stop = entry * (1 + stopPct)
	}
	if err := e.book.Mutate(id, func(lp *position.Position) error {
		lp.EntryPrice = entry
		lp.StopPrice = stop
		if orderRes.FilledQty > 0 {
			lp.Quantity = orderRes.FilledQty
		}
		if orderRes.VenueTradeID != "" {
			lp.VenueID = orderRes.VenueTradeID
		}
		if d.TakeProfitPct > 0 {
			if side == position.SideLong {
				lp.TakeProfit = entry * (1 + d.TakeProfitPct)
			} else {
				lp.TakeProfit = entry * (1 - d.TakeProfitPct)
			}
		}
		return nil
	}); err != nil {
		return "", err
	}
	if _, err := e.transition(ctx, id, position.StateOpen, "fill confirmed"); err != nil {
		return "", err
	}

	// Layer 1: venue-native protective stop. A rejection escalates to
	// the application-side layers instead of being dropped.
	_, err = e.gateway.SubmitOrder(execCtx, exchange.OrderRequest{
		Symbol:         p.Symbol,
		Side:           string(side),
		Quantity:       qty,
		Type:           exchange.OrderTypeStopMarket,
		StopPrice:      stop,
		ReduceOnly:     true,
		IdempotencyKey: "stop-" + id,
	})
	if err != nil {
		logger.Errorf("engine: venue stop rejected for %s (%s): %v; layer-2 monitor is primary", p.Symbol, id, err)
		e.alert(fmt.Sprintf("⚠️ venue stop rejected for %s: %v", p.Symbol, err))
	}

	e.protection.Start(id)
	logger.Infof("engine: opened %s %s qty=%.6f entry=%.4f stop=%.4f (position %s)",
		p.Symbol, side, qty, entry, stop, id)
	return id, nil
}

// exitSymbol closes the live position for symbol, if any.
func (e *Engine) exitSymbol(ctx context.Context, symbol, reason string) error {
	snap := e.book.Snapshot()
	live, ok := liveForSymbol(snap, symbol)
	if !ok {
		return fmt.Errorf("exit decision for %s but no live position", symbol)
	}
	if live.State != position.StateOpen {
		// In-flight open or close; leave it to its own flow.
		logger.Infof("engine: exit for %s ignored, position %s is %s", symbol, live.ID, live.State)
		return nil
	}
	return e.ForceClose(ctx, live.ID, reason)
}

// ForceClose flattens a position at market. Idempotent: a close for a
// position already closing or closed returns nil, so racing protective
// layers cannot turn a duplicate into a failure.
func (e *Engine) ForceClose(ctx context.Context, positionID, reason string) error {
	p, ok := e.book.Get(positionID)
	if !ok {
		return fmt.Errorf("position %s not tracked", positionID)
	}
	if p.State == position.StateClosing || p.State.Terminal() {
		return nil
	}
	cp, err := e.transition(ctx, positionID, position.StateClosing, reason)
	if err != nil {
		var ite *position.InvalidTransitionError
		if errors.As(err, &ite) {
			// A racing closer committed first; duplicate is success.
			return nil
		}
		return err
	}
	return e.settle(ctx, cp, reason)
}

// settle completes a CLOSING position: venue close, P&L booking,
// CLOSED transition, monitor teardown.
func (e *Engine) settle(ctx context.Context, cp position.Position, reason string) error {
	var res exchange.OrderResult
	err := retry.Do(ctx, 3, 200*time.Millisecond, 2*time.Second, func() error {
		var cerr error
		res, cerr = e.gateway.ClosePosition(ctx, cp.VenueID, cp.Symbol, string(cp.Side), cp.Quantity, reason)
		return cerr
	})
	if err != nil {
		e.gatewayCB.Failure()
		e.alert(fmt.Sprintf("🚨 close failed for %s (%s): %v — position stuck CLOSING", cp.Symbol, cp.ID, err))
		return fmt.Errorf("close %s at venue: %w", cp.ID, err)
	}
	e.gatewayCB.Success()
	if res.AlreadyClosed {
		logger.Warnf("engine: venue reports %s already closed, treating as success", cp.ID)
	}

	exit := res.AvgPrice
	if exit <= 0 {
		exit = cp.EntryPrice
	}
	realized := closePnL(cp, exit)
	if err := e.book.ApplyClose(cp.ID, exit, realized); err != nil {
		return err
	}
	if _, err := e.transition(ctx, cp.ID, position.StateClosed, "close confirmed"); err != nil {
		return err
	}
	// Async: a monitor goroutine may be the caller, and Cancel blocks
	// until both monitors have exited.
	go e.protection.CancelFor(cp.ID)
	e.saveSnapshot(ctx)
	logger.Infof("engine: closed %s exit=%.4f realized=%.4f (%s)", cp.ID, exit, realized, reason)
	return nil
}

// impliedExit backs the exit price out of the last known mark when the
// venue side is gone and no fill price exists.
func impliedExit(p position.Position) float64 {
	if p.Quantity <= 0 || p.EntryPrice <= 0 {
		return p.EntryPrice
	}
	perUnit := p.UnrealizedPnL / p.Quantity
	if p.Side == position.SideShort {
		return p.EntryPrice - perUnit
	}
	return p.EntryPrice + perUnit
}

func closePnL(p position.Position, exit float64) float64 {
	if exit <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	diff := exit - p.EntryPrice
	if p.Side == position.SideShort {
		diff = -diff
	}
	return diff * p.Quantity
}

// transition commits a state change through the book, audits it,
// persists the position and re-evaluates the circuit breaker. The
// breaker check is strictly ordered after the committed change.
func (e *Engine) transition(ctx context.Context, id string, target position.State, reason string) (position.Position, error) {
	cp, err := e.book.Transition(id, target, reason)
	if err != nil {
		return position.Position{}, err
	}
	last := cp.History[len(cp.History)-1]
	if e.audit != nil {
		if aerr := e.audit.AppendTransition(ctx, store.TransitionEntry{
			PositionID: cp.ID,
			From:       string(last.From),
			To:         string(last.To),
			Reason:     reason,
			At:         last.At,
		}); aerr != nil {
			logger.Warnf("engine: audit transition for %s: %v", cp.ID, aerr)
		}
	}
	if e.store != nil {
		if serr := e.store.SavePosition(ctx, cp); serr != nil {
			logger.Warnf("engine: persist position %s: %v", cp.ID, serr)
		}
	}
	e.breaker.Check(e.book.Snapshot(), e.limits.Current())
	return cp, nil
}

// reconcile compares local open positions with the venue's view. The
// venue is authoritative: mismatches are corrected locally and always
// alerted. Returns the number of mismatches.
func (e *Engine) reconcile(ctx context.Context) int {
	if !e.gatewayCB.Allow() {
		logger.Warnf("engine: reconcile skipped, gateway circuit open")
		return 0
	}
	rctx, cancel := context.WithTimeout(ctx, e.executeDeadline())
	defer cancel()
	venue, err := e.gateway.ListOpenPositions(rctx)
	if err != nil {
		e.gatewayCB.Failure()
		logger.Errorf("engine: reconcile list positions: %v", err)
		return 0
	}
	e.gatewayCB.Success()

	remote := make(map[string]exchange.Position, len(venue))
	for _, vp := range venue {
		remote[vp.VenueID] = vp
	}

	mismatches := 0
	snap := e.book.Snapshot()
	for _, p := range snap.Positions {
		if p.State != position.StateOpen {
			continue
		}
		vp, ok := remote[p.VenueID]
		if !ok {
			mismatches++
			if p.UnrealizedPnL < 0 {
				// A losing position vanishing from the venue is a forced
				// liquidation, not a normal close; record it as one.
				e.alert(fmt.Sprintf("🚨 reconcile: %s (%s) LIQUIDATED at venue, last mark %.2f", p.Symbol, p.ID, p.UnrealizedPnL))
				_ = e.book.ApplyClose(p.ID, impliedExit(p), p.UnrealizedPnL)
				if _, err := e.transition(ctx, p.ID, position.StateLiquidated, "reconcile: liquidated at venue"); err != nil {
					logger.Errorf("engine: reconcile liquidate %s: %v", p.ID, err)
				}
				go e.protection.CancelFor(p.ID)
				continue
			}
			e.alert(fmt.Sprintf("⚠️ reconcile: %s (%s) open locally but missing at venue; trusting venue", p.Symbol, p.ID))
			if _, err := e.transition(ctx, p.ID, position.StateClosing, "reconcile: missing at venue"); err != nil {
				logger.Errorf("engine: reconcile close %s: %v", p.ID, err)
				continue
			}
			_ = e.book.ApplyClose(p.ID, impliedExit(p), p.UnrealizedPnL)
			if _, err := e.transition(ctx, p.ID, position.StateClosed, "reconcile: venue confirmed closed"); err != nil {
				logger.Errorf("engine: reconcile close %s: %v", p.ID, err)
			}
			go e.protection.CancelFor(p.ID)
			continue
		}
		delete(remote, p.VenueID)
		// Refresh marks from the authoritative side.
		_ = e.book.Mutate(p.ID, func(lp *position.Position) error {
			lp.UnrealizedPnL = vp.UnrealizedPnL
			lp.UpdatedAt = time.Now().UTC()
			return nil
		})
	}

	for _, vp := range remote {
		side, ok := position.ParseSide(vp.Side)
		if !ok {
			logger.Errorf("engine: reconcile: venue position %s has unknown side %q", vp.VenueID, vp.Side)
			continue
		}
		mismatches++
		e.alert(fmt.Sprintf("⚠️ reconcile: untracked %s %s position at venue, adopting", vp.Symbol, vp.Side))
		p := position.New(vp.Symbol, side, vp.Quantity, vp.Leverage)
		p.EntryPrice = vp.EntryPrice
		p.UnrealizedPnL = vp.UnrealizedPnL
		p.VenueID = vp.VenueID
		if err := e.book.Track(p); err != nil {
			logger.Errorf("engine: reconcile adopt %s: %v", vp.VenueID, err)
			continue
		}
		if _, err := e.transition(ctx, p.ID, position.StateOpening, "reconcile: adopted from venue"); err != nil {
			continue
		}
		if _, err := e.transition(ctx, p.ID, position.StateOpen, "reconcile: adopted from venue"); err != nil {
			continue
		}
		e.protection.Start(p.ID)
	}

	// Mark refresh can move unrealized P&L past the daily threshold.
	e.breaker.Check(e.book.Snapshot(), e.limits.Current())
	return mismatches
}

// Recover rebuilds the book from the store and the venue at startup,
// restarts protection for surviving positions and moves the process to
// RUNNING.
func (e *Engine) Recover(ctx context.Context) error {
	if e.store != nil {
		rec, ok, err := e.store.LatestSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			e.book.SetBalance(rec.Balance)
			e.book.RestoreDaily(rec.DailyRealized, rec.TakenAt)
		}
		active, err := e.store.ListPositions(ctx, true)
		if err != nil {
			return fmt.Errorf("load active positions: %w", err)
		}
		for i := range active {
			cp := active[i]
			if err := cp.CheckInvariants(); err != nil {
				logger.Warnf("engine: recover: %v", err)
			}
			if err := e.book.Track(&cp); err != nil {
				logger.Warnf("engine: recover track %s: %v", cp.ID, err)
			}
		}
		logger.Infof("engine: recovered %d active positions from store", len(active))
	}

	// The venue balance wins over the persisted one.
	if bal, err := e.gateway.GetBalance(ctx); err != nil {
		logger.Warnf("engine: recover balance: %v", err)
	} else if bal.Total > 0 {
		e.book.SetBalance(bal.Total)
	}

	e.reconcile(ctx)

	for _, p := range e.book.Snapshot().Positions {
		switch p.State {
		case position.StateOpen:
			e.protection.Start(p.ID)
		case position.StateClosing:
			// A close was in flight when the process died; finish it.
			if err := e.settle(ctx, p, "recovery: resume close"); err != nil {
				logger.Errorf("engine: recover settle %s: %v", p.ID, err)
			}
		}
	}
	return e.machine.To(ProcRunning, "recovery complete")
}

// onBreakerTrip escalates a daily-loss trip: audit, alert, SAFE_MODE,
// force-close every open position.
func (e *Engine) onBreakerTrip(rec risk.TripRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if e.audit != nil {
		if err := e.audit.AppendBreakerTrip(ctx, store.TripEntry{
			PnL:       rec.PnL,
			PnLPct:    rec.PnLPct,
			Threshold: rec.Threshold,
			At:        rec.TrippedAt,
		}); err != nil {
			logger.Warnf("engine: audit breaker trip: %v", err)
		}
	}
	e.alert(fmt.Sprintf("🚨 circuit breaker TRIPPED: pnl=%.2f (%.2f%%) threshold=%s live=%d",
		rec.PnL, rec.PnLPct*100, rec.Threshold, rec.LiveCount))
	// A daily-loss trip while the venue is already unreachable leaves
	// no protective layer able to act: that is the severe class.
	target, reason := ProcSafeMode, "daily-loss circuit breaker tripped"
	if e.gatewayCB.State() == circuit.StateOpen {
		target, reason = ProcEmergencyStop, "daily-loss trip with gateway unreachable"
	}
	if err := e.machine.To(target, reason); err != nil {
		logger.Errorf("engine: %v", err)
	}

	for _, p := range e.book.Snapshot().OpenPositions() {
		if err := e.ForceClose(ctx, p.ID, "circuit breaker tripped"); err != nil {
			logger.Errorf("engine: breaker force close %s: %v", p.ID, err)
		}
	}
}

// onGatewayCircuit maps gateway health to the process state: an open
// circuit means the venue is unreachable, which is a severe class.
func (e *Engine) onGatewayCircuit(name string, from, to circuit.State) {
	switch to {
	case circuit.StateOpen:
		e.alert("🚨 execution gateway unreachable, entering SAFE_MODE")
		if err := e.machine.To(ProcSafeMode, "gateway circuit open"); err != nil {
			logger.Errorf("engine: %v", err)
		}
	case circuit.StateClosed:
		if e.machine.State() == ProcSafeMode {
			_ = e.machine.To(ProcRunning, "gateway recovered")
		}
	}
}

// ResetBreaker re-arms the daily-loss breaker on operator request and,
// when the trip was the only reason for SAFE_MODE, resumes RUNNING.
func (e *Engine) ResetBreaker(operator string) error {
	if err := e.breaker.Reset(operator); err != nil {
		return err
	}
	if e.machine.State() == ProcSafeMode {
		_ = e.machine.To(ProcRunning, "breaker reset by "+operator)
	}
	return nil
}

// Pause and Resume are the operator surface for PAUSED.
func (e *Engine) Pause(reason string) error  { return e.machine.To(ProcPaused, reason) }
func (e *Engine) Resume(reason string) error { return e.machine.To(ProcRunning, reason) }

// EmergencyStop is the operator kill switch: halt the process and
// flatten everything still open. Recovery goes through MAINTENANCE.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	if err := e.machine.To(ProcEmergencyStop, reason); err != nil {
		return err
	}
	e.alert("🚨 EMERGENCY STOP: " + reason)
	for _, p := range e.book.Snapshot().OpenPositions() {
		if err := e.ForceClose(ctx, p.ID, "emergency stop: "+reason); err != nil {
			logger.Errorf("engine: emergency close %s: %v", p.ID, err)
		}
	}
	return nil
}

// Maintenance parks the process for operator intervention. Resume
// returns it to RUNNING.
func (e *Engine) Maintenance(reason string) error {
	return e.machine.To(ProcMaintenance, reason)
}

// Shutdown moves the process to its terminal state.
func (e *Engine) Shutdown(reason string) {
	if err := e.machine.To(ProcShuttingDown, reason); err != nil {
		logger.Errorf("engine: %v", err)
	}
}

func (e *Engine) finish(ctx context.Context, res CycleResult) CycleResult {
	snap := e.book.Snapshot()
	res.DailyPnL = snap.DailyRealizedPnL
	res.Duration = time.Since(res.StartedAt)
	if e.store != nil {
		if err := e.store.SaveCycleResult(ctx, res.record()); err != nil {
			logger.Warnf("engine: persist cycle result: %v", err)
		}
	}
	logger.Infof("engine: %s %s duration=%s generated=%d executed=%d rejected=%d errors=%d daily_pnl=%.2f",
		res.CycleID, res.Status, res.Duration.Truncate(time.Millisecond),
		res.Generated, res.Executed, res.Rejected, res.Errors, res.DailyPnL)
	return res
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap := e.book.Snapshot()
	if err := e.store.SaveSnapshot(ctx, store.SnapshotRecord{
		Balance:       snap.Balance,
		DailyRealized: snap.DailyRealizedPnL,
		TakenAt:       snap.TakenAt,
	}); err != nil {
		logger.Warnf("engine: persist snapshot: %v", err)
	}
}

func (e *Engine) alert(text string) {
	if err := e.notify.SendText(text); err != nil {
		logger.Warnf("engine: alert delivery failed: %v", err)
	}
}
