package engine

import (
	"encoding/json"
	"time"

	"vigil/internal/decision"
	"vigil/internal/logger"
	"vigil/internal/risk"
	"vigil/internal/store"
)

// Cycle status values.
const (
	CycleCompleted = "completed"
	CycleSkipped   = "skipped"
)

// InstrumentOutcome is the per-instrument record inside one cycle.
type InstrumentOutcome struct {
	Symbol     string           `json:"symbol"`
	Outcome    decision.Outcome `json:"outcome"`
	Validation *risk.Validation `json:"validation,omitempty"`
	PositionID string           `json:"position_id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// CycleResult is emitted after every RunCycle call, success or not.
type CycleResult struct {
	CycleID   string              `json:"cycle_id"`
	Status    string              `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Generated int                 `json:"decisions_generated"`
	Executed  int                 `json:"decisions_executed"`
	Rejected  int                 `json:"decisions_rejected"`
	Errors    int                 `json:"errors"`
	Outcomes  []InstrumentOutcome `json:"outcomes,omitempty"`
	DailyPnL  float64             `json:"daily_pnl"`
}

// record converts the result to its persisted form.
func (r CycleResult) record() store.CycleRecord {
	rec := store.CycleRecord{
		CycleID:   r.CycleID,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Generated: r.Generated,
		Executed:  r.Executed,
		Rejected:  r.Rejected,
		Errors:    r.Errors,
		DailyPnL:  r.DailyPnL,
	}
	if len(r.Outcomes) > 0 {
		raw, err := json.Marshal(r.Outcomes)
		if err != nil {
			logger.Warnf("engine: marshal cycle outcomes: %v", err)
		} else {
			rec.OutcomesJSON = string(raw)
		}
	}
	return rec
}
