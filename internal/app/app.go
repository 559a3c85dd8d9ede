// Package app assembles the configured components and runs them.
package app

import (
	"context"
	"fmt"
	"time"

	vcfg "vigil/internal/config"
	"vigil/internal/engine"
	"vigil/internal/logger"
	"vigil/internal/portfolio"
	"vigil/internal/scheduler"
	"vigil/internal/store"
	httpapi "vigil/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App owns the long-lived pieces: the engine, the cadence scheduler,
// the daily rollover and the HTTP surface.
type App struct {
	cfg    *vcfg.Config
	engine *engine.Engine
	book   *portfolio.Book
	http   *httpapi.Server
	store  store.Store
	audit  store.AuditLog
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *vcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Engine exposes the orchestrator for replay and test harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run recovers state, then serves cycles and HTTP until ctx is
// cancelled. Always returns after a graceful shutdown attempt.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.engine.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	// Rollover re-bases the daily loss window at UTC midnight. It
	// never touches the circuit breaker.
	rollover, err := scheduler.NewRollover(func(now time.Time) {
		a.book.RebaseDay(now)
	})
	if err != nil {
		return fmt.Errorf("daily rollover: %w", err)
	}
	rollover.Start()
	defer rollover.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Run(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, "cycle",
			time.Duration(a.cfg.Cycle.IntervalSeconds)*time.Second)
		sched.RunImmediately = a.cfg.Cycle.RunImmediately
		sched.Start(func() {
			a.engine.RunCycle(ctx)
		})
		return nil
	})

	err = group.Wait()
	a.engine.Shutdown("context cancelled")
	a.close()
	return err
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: close store: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("app: close audit log: %v", err)
		}
	}
}
