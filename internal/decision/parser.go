package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CoerceObjectJSON accepts either a bare decision object or a wrapper
// {"decision": {...}} and returns the object text.
func CoerceObjectJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("decision json is empty")
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("decision json is invalid")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return "", fmt.Errorf("decision root must be a JSON object")
	}
	if inner := parsed.Get("decision"); inner.Exists() {
		if !inner.IsObject() {
			return "", fmt.Errorf("decision field must be an object")
		}
		return strings.TrimSpace(inner.Raw), nil
	}
	if strings.TrimSpace(parsed.Get("action").String()) == "" {
		return "", fmt.Errorf("decision object lacks action field")
	}
	return raw, nil
}

// Parse turns raw source output into a Decision for symbol. The payload
// is coerced, schema-validated and normalized; any failure is reported
// so the caller can degrade to NoDecision.
func Parse(raw, symbol string, prov Provenance) (Decision, error) {
	obj, err := CoerceObjectJSON(raw)
	if err != nil {
		return Decision{}, err
	}
	if err := ValidateSchema(obj); err != nil {
		return Decision{}, err
	}
	parsed := gjson.Parse(obj)
	d := Decision{
		Symbol:        strings.ToUpper(strings.TrimSpace(parsed.Get("symbol").String())),
		Confidence:    parsed.Get("confidence").Float(),
		SizeFraction:  parsed.Get("size_fraction").Float(),
		Leverage:      parsed.Get("leverage").Float(),
		StopLossPct:   parsed.Get("stop_loss_pct").Float(),
		TakeProfitPct: parsed.Get("take_profit_pct").Float(),
		Rationale:     strings.TrimSpace(parsed.Get("rationale").String()),
		Provenance:    prov,
	}
	action, ok := NormalizeAction(parsed.Get("action").String())
	if !ok {
		return Decision{}, fmt.Errorf("unknown action %q", parsed.Get("action").String())
	}
	d.Action = action
	if symbol != "" && d.Symbol != strings.ToUpper(strings.TrimSpace(symbol)) {
		return Decision{}, fmt.Errorf("decision symbol %s does not match requested %s", d.Symbol, symbol)
	}
	Normalize(&d)
	return d, nil
}
