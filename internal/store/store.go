// Package store defines the persistence contracts the core needs.
package store

import (
	"context"
	"time"

	"vigil/internal/position"
)

// CycleRecord is the persisted form of one cycle result.
type CycleRecord struct {
	CycleID      string        `json:"cycle_id"`
	Status       string        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Generated    int           `json:"decisions_generated"`
	Executed     int           `json:"decisions_executed"`
	Rejected     int           `json:"decisions_rejected"`
	Errors       int           `json:"errors"`
	OutcomesJSON string        `json:"outcomes_json,omitempty"`
	DailyPnL     float64       `json:"daily_pnl"`
}

// SnapshotRecord is the minimal restart state.
type SnapshotRecord struct {
	Balance       float64   `json:"balance"`
	DailyRealized float64   `json:"daily_realized"`
	TakenAt       time.Time `json:"taken_at"`
}

// Store is the main persistence surface.
type Store interface {
	SavePosition(ctx context.Context, p position.Position) error
	ListPositions(ctx context.Context, activeOnly bool) ([]position.Position, error)
	SaveCycleResult(ctx context.Context, rec CycleRecord) error
	ListCycleResults(ctx context.Context, limit int) ([]CycleRecord, error)
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error
	LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error)
	Close() error
}

// TransitionEntry is one audit row.
type TransitionEntry struct {
	PositionID string    `json:"position_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// TripEntry records one circuit-breaker trip.
type TripEntry struct {
	PnL       float64   `json:"pnl"`
	PnLPct    float64   `json:"pnl_pct"`
	Threshold string    `json:"threshold"`
	At        time.Time `json:"at"`
}

// AuditLog is the append-only audit surface. Writes are never updated
// or deleted.
type AuditLog interface {
	AppendTransition(ctx context.Context, e TransitionEntry) error
	AppendBreakerTrip(ctx context.Context, e TripEntry) error
	Transitions(ctx context.Context, positionID string) ([]TransitionEntry, error)
	BreakerTrips(ctx context.Context, limit int) ([]TripEntry, error)
	Close() error
}
