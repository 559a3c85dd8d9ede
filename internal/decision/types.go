// Package decision defines the trading-decision model and the opaque
// source contract that produces decisions.
package decision

import "time"

// Action is the requested trade action for one instrument in one cycle.
type Action string

const (
	ActionEnterLong  Action = "enter_long"
	ActionEnterShort Action = "enter_short"
	ActionExit       Action = "exit"
	ActionHold       Action = "hold"
)

// Entry reports whether the action opens new exposure.
func (a Action) Entry() bool {
	return a == ActionEnterLong || a == ActionEnterShort
}

// Provenance records where a decision came from and what it cost.
type Provenance struct {
	SourceID  string        `json:"source_id"`
	Latency   time.Duration `json:"latency"`
	CostUSD   float64       `json:"cost_usd,omitempty"`
	Generated time.Time     `json:"generated"`
}

// Decision is immutable once issued. It is always validated by the risk
// manager before any side effect.
type Decision struct {
	Symbol        string     `json:"symbol"`
	Action        Action     `json:"action"`
	Confidence    float64    `json:"confidence"`
	SizeFraction  float64    `json:"size_fraction,omitempty"`
	Leverage      float64    `json:"leverage,omitempty"`
	StopLossPct   float64    `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64    `json:"take_profit_pct,omitempty"`
	Rationale     string     `json:"rationale,omitempty"`
	Provenance    Provenance `json:"provenance"`
}

// SkipReason explains why no decision was available for an instrument.
type SkipReason string

const (
	SkipTimeout         SkipReason = "timeout"
	SkipMalformed       SkipReason = "malformed"
	SkipSchemaViolation SkipReason = "schema-violation"
	SkipSourceError     SkipReason = "source-error"
	SkipDataUnavailable SkipReason = "data-unavailable"
)

// Outcome is a tagged variant: either a Decision or an explicit
// NoDecision with its reason. A degraded instrument is never reported
// as an intentional hold.
type Outcome struct {
	Symbol     string      `json:"symbol"`
	Decision   *Decision   `json:"decision,omitempty"`
	NoDecision *NoDecision `json:"no_decision,omitempty"`
}

type NoDecision struct {
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Decided builds an Outcome wrapping d.
func Decided(d Decision) Outcome {
	return Outcome{Symbol: d.Symbol, Decision: &d}
}

// Skipped builds an Outcome with an explicit no-decision marker.
func Skipped(symbol string, reason SkipReason, detail string) Outcome {
	return Outcome{Symbol: symbol, NoDecision: &NoDecision{Reason: reason, Detail: detail}}
}
