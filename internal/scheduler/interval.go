// Package scheduler drives the cycle cadence and the daily rollover.
package scheduler

import (
	"context"
	"time"

	"vigil/internal/logger"
)

// IntervalScheduler invokes a task on a fixed cadence. One run always
// finishes before the next is admitted: an overrunning cycle is
// recorded, never interrupted, because partial execution of trading
// actions is worse than a late cycle.
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool
	Name           string

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{Interval: interval, Name: name, ctx: ctx, nowFn: time.Now}
}

// Start blocks, running task on the cadence until ctx is cancelled.
func (s *IntervalScheduler) Start(task func()) {
	if task == nil || s.Interval <= 0 {
		logger.Warnf("scheduler %s: nothing to run (interval=%s)", s.Name, s.Interval)
		return
	}
	logger.Infof("scheduler %s: started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		s.runOnce(task)
	}
	for {
		timer := time.NewTimer(s.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		s.runOnce(task)
	}
}

func (s *IntervalScheduler) runOnce(task func()) {
	started := s.nowFn()
	task()
	elapsed := s.nowFn().Sub(started)
	if elapsed > s.Interval {
		logger.Warnf("scheduler %s: cycle overran cadence: took=%s interval=%s", s.Name, elapsed.Truncate(time.Millisecond), s.Interval)
	}
}
