package policy

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentgovern/governor/internal/condition"
	"github.com/agentgovern/governor/internal/governor"
	"github.com/agentgovern/governor/internal/trust"
)

// definitionSchemaJSON is a JSON Schema covering the shape-level invariants
// of a policy definition (spec.md §4.3): version pinned to "1.0", rules an
// array, each rule carrying the required fields. It runs as defense-in-depth
// ahead of the semantic structural validator below, which additionally
// checks enum membership (action set, condition shapes, trust band range)
// that JSON Schema expresses more awkwardly.
const definitionSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "rules", "defaultAction"],
  "properties": {
    "version": {"const": "1.0"},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "priority", "when", "then"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "priority": {"type": "integer"},
          "enabled": {"type": "boolean"},
          "then": {
            "type": "object",
            "required": ["action"]
          }
        }
      }
    },
    "defaultAction": {"type": "string"}
  }
}`

var definitionSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.json", bytes.NewReader([]byte(definitionSchemaJSON))); err != nil {
		panic(fmt.Sprintf("policy: invalid embedded definition schema: %v", err))
	}
	schema, err := compiler.Compile("definition.json")
	if err != nil {
		panic(fmt.Sprintf("policy: failed to compile embedded definition schema: %v", err))
	}
	definitionSchema = schema
}

var validActions = map[Action]bool{
	ActionAllow: true, ActionDeny: true, ActionEscalate: true,
	ActionLimit: true, ActionMonitor: true, ActionTerminate: true,
}

var validCompoundOps = map[string]bool{"and": true, "or": true, "not": true}
var validTimeFields = map[string]bool{"hour": true, "dayOfWeek": true, "date": true}

// ValidateDefinition runs the JSON-Schema shape check followed by the
// structural semantic check described in spec.md §4.3. Any failure returns
// a populated *governor.ValidationErrors, ready to surface as a 400
// VALIDATION_ERROR at the API boundary.
func ValidateDefinition(def Definition, asJSON map[string]interface{}) *governor.ValidationErrors {
	errs := &governor.ValidationErrors{}

	if asJSON != nil {
		if err := definitionSchema.Validate(asJSON); err != nil {
			errs.Add("definition", err.Error(), "SCHEMA_ERROR")
		}
	}

	if def.Version != "1.0" {
		errs.Add("definition.version", "must be \"1.0\"", "INVALID_VERSION")
	}
	if !validActions[def.DefaultAction] {
		errs.Add("definition.defaultAction", fmt.Sprintf("invalid action %q", def.DefaultAction), "INVALID_ACTION")
	}

	seenIDs := make(map[string]bool)
	for i, rule := range def.Rules {
		path := fmt.Sprintf("definition.rules[%d]", i)
		if rule.ID == "" {
			errs.Add(path+".id", "must be non-empty", "REQUIRED")
		} else if seenIDs[rule.ID] {
			errs.Add(path+".id", fmt.Sprintf("duplicate rule id %q", rule.ID), "DUPLICATE_ID")
		}
		seenIDs[rule.ID] = true
		if rule.Name == "" {
			errs.Add(path+".name", "must be non-empty", "REQUIRED")
		}
		if !validActions[rule.Then.Action] {
			errs.Add(path+".then.action", fmt.Sprintf("invalid action %q", rule.Then.Action), "INVALID_ACTION")
		}
		validateCondition(rule.When, path+".when", errs)
	}

	return errs
}

func validateCondition(c condition.Condition, path string, errs *governor.ValidationErrors) {
	switch {
	case c.Field != nil, c.Compound != nil, c.Trust != nil, c.Time != nil, c.Expression != nil, c.CELExpression != nil:
		// exactly one shape present is checked structurally by construction
		// (the Condition type's zero value has all variants nil); callers
		// building a Condition from raw JSON are responsible for enforcing
		// "exactly one" before reaching here.
	default:
		errs.Add(path, "condition must be one of field, compound, trust, time, expression", "INVALID_CONDITION")
		return
	}
	if c.Compound != nil {
		if !validCompoundOps[string(c.Compound.Op)] {
			errs.Add(path+".compound.operator", fmt.Sprintf("invalid operator %q", c.Compound.Op), "INVALID_OPERATOR")
		}
		for i, nested := range c.Compound.Conditions {
			validateCondition(nested, fmt.Sprintf("%s.compound.conditions[%d]", path, i), errs)
		}
	}
	if c.Trust != nil {
		if c.Trust.Band < trust.T0 || c.Trust.Band > trust.T5 {
			errs.Add(path+".trust.band", "must be within T0..T5", "INVALID_BAND")
		}
	}
	if c.Time != nil {
		if !validTimeFields[string(c.Time.Field)] {
			errs.Add(path+".time.field", fmt.Sprintf("invalid field %q", c.Time.Field), "INVALID_TIME_FIELD")
		}
	}
}
