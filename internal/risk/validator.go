package risk

import (
	"fmt"

	"vigil/internal/decision"
	"vigil/internal/portfolio"

	"github.com/shopspring/decimal"
)

// ReasonCode is the machine-readable rejection reason.
type ReasonCode string

const (
	ReasonLowConfidence   ReasonCode = "LowConfidence"
	ReasonPositionCap     ReasonCode = "PositionCap"
	ReasonExposureCap     ReasonCode = "ExposureCap"
	ReasonLeverageBound   ReasonCode = "LeverageBound"
	ReasonBreakerNotArmed ReasonCode = "BreakerNotArmed"
	ReasonZeroSize        ReasonCode = "ZeroSize"
	ReasonDuplicateEntry  ReasonCode = "DuplicateEntry"
	ReasonOpenBudget      ReasonCode = "OpenBudget"
)

// Validation is the outcome of the pre-trade gate. When approved, the
// stake may have been capped; Capped is set so a silent full-size
// approval never masks a cap.
type Validation struct {
	Approved      bool       `json:"approved"`
	Reason        ReasonCode `json:"reason,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	ApprovedStake float64    `json:"approved_stake,omitempty"`
	Capped        bool       `json:"capped,omitempty"`
}

func reject(code ReasonCode, format string, args ...any) Validation {
	return Validation{Reason: code, Detail: fmt.Sprintf(format, args...)}
}

// ValidatePreTrade is a pure function of the decision, the fresh
// portfolio snapshot, the limits and the breaker state. Safe to call
// speculatively; no side effects.
func ValidatePreTrade(d decision.Decision, snap portfolio.Snapshot, limits Limits, breaker CircuitState) Validation {
	if !d.Action.Entry() {
		// Exits and holds are not gated on entry limits.
		return Validation{Approved: true}
	}
	if breaker != CircuitArmed {
		return reject(ReasonBreakerNotArmed, "circuit breaker is %s", breaker)
	}
	if d.Confidence < limits.MinConfidence {
		return reject(ReasonLowConfidence, "confidence %.2f below threshold %.2f", d.Confidence, limits.MinConfidence)
	}
	bound := limits.LeverageBound(d.Symbol)
	if d.Leverage > bound {
		return reject(ReasonLeverageBound, "leverage %.1f exceeds bound %.1f for %s", d.Leverage, bound, d.Symbol)
	}

	balance := decimal.NewFromFloat(snap.Balance)
	requested := balance.Mul(decimal.NewFromFloat(d.SizeFraction))
	if !requested.IsPositive() {
		return reject(ReasonZeroSize, "requested size fraction %.4f yields no stake", d.SizeFraction)
	}

	perPositionCap := balance.Mul(decimal.NewFromFloat(limits.MaxPositionFraction))
	stake := requested
	capped := false
	if stake.GreaterThan(perPositionCap) {
		stake = perPositionCap
		capped = true
	}

	exposureCap := balance.Mul(decimal.NewFromFloat(limits.MaxTotalExposureFraction))
	current := decimal.NewFromFloat(snap.TotalExposure())
	if current.Add(stake).GreaterThan(exposureCap) {
		headroom := exposureCap.Sub(current)
		if !headroom.IsPositive() {
			return reject(ReasonExposureCap, "total exposure %.2f already at cap %.2f", snap.TotalExposure(), exposureCap.InexactFloat64())
		}
		stake = headroom
		capped = true
	}

	approved, _ := stake.Round(8).Float64()
	return Validation{Approved: true, ApprovedStake: approved, Capped: capped}
}
