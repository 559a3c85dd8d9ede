package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// decisionSchema constrains what the opaque source may emit. Anything
// outside it degrades to NoDecision for that instrument.
const decisionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["symbol", "action", "confidence"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "action": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "size_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "leverage": {"type": "number", "minimum": 0},
    "stop_loss_pct": {"type": "number", "minimum": 0},
    "take_profit_pct": {"type": "number", "minimum": 0},
    "rationale": {"type": "string"}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", strings.NewReader(decisionSchema)); err != nil {
		panic(fmt.Sprintf("decision schema resource: %v", err))
	}
	s, err := c.Compile("decision.json")
	if err != nil {
		panic(fmt.Sprintf("decision schema compile: %v", err))
	}
	return s
}

// ValidateSchema checks raw against the decision schema.
func ValidateSchema(raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decision payload is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("decision payload violates schema: %w", err)
	}
	return nil
}
