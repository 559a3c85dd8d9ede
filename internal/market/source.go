package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStale marks a snapshot older than the configured staleness bound.
// The orchestrator treats stale data the same as unavailable data.
var ErrStale = errors.New("market snapshot is stale")

// Source produces market snapshots. Implementations must respect ctx
// deadlines; a timeout fails that instrument only.
type Source interface {
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	// Price returns the latest traded price without a full snapshot.
	// Used by the protective monitors on their poll ticks.
	Price(ctx context.Context, symbol string) (float64, error)
}

// CheckFreshness rejects snapshots older than maxAge.
func CheckFreshness(s *Snapshot, maxAge time.Duration, now time.Time) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if maxAge > 0 && s.Age(now) > maxAge {
		return fmt.Errorf("%w: age=%s bound=%s", ErrStale, s.Age(now).Truncate(time.Millisecond), maxAge)
	}
	return nil
}
