package policy

import (
	"sort"
	"time"

	"github.com/agentgovern/governor/internal/condition"
)

// EvalInput is the decision context the Policy Evaluator (C5) runs
// applicable policies against — spec.md §4.5's `{intent, entity, environment,
// custom?}` shape projected onto condition.Context plus the applicability
// fields a Target filters on.
type EvalInput struct {
	IntentType string
	EntityType string
	TrustBand  string
	Namespace  string
	Context    condition.Context
}

// RuleMatch records which rule (if any) fired within a policy, for the
// policiesEvaluated trace in EvalResult.
type RuleMatch struct {
	PolicyID   string
	PolicyName string
	RuleID     string
	Action     Action
	Reason     string
	Default    bool // true when no rule matched and the policy's defaultAction applied
}

// EvalResult is the C5 output, matching spec.md §4.5's
// `{passed, finalAction, reason?, policiesEvaluated[], appliedPolicy?, totalDurationMs, evaluatedAt}`.
type EvalResult struct {
	Passed           bool
	FinalAction      Action
	Reason           string
	PoliciesEvaluated []RuleMatch
	AppliedPolicy    string
	Constraints      map[string]interface{}
	Escalation       *EscalationSpec
	TotalDurationMs  int64
	EvaluatedAt      time.Time
}

// Applicable reports whether p's target (if any) matches in.
func Applicable(p Policy, in EvalInput) bool {
	t := p.Definition.Target
	if t == nil {
		return true
	}
	if !matchesList(t.IntentTypes, in.IntentType) {
		return false
	}
	if !matchesList(t.EntityTypes, in.EntityType) {
		return false
	}
	if !matchesList(t.TrustBands, in.TrustBand) {
		return false
	}
	if !matchesList(t.Namespaces, in.Namespace) {
		return false
	}
	return true
}

func matchesList(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == "*" || v == value {
			return true
		}
	}
	return false
}

// Evaluate runs every applicable policy in policies against in and combines
// their results deterministically (spec.md §4.5): no I/O, and for a fixed
// set of policies and input the action/reason/constraints are always
// identical — only the wall-clock timing fields vary between calls.
func Evaluate(policies []Policy, in EvalInput) EvalResult {
	start := time.Now()

	result := EvalResult{
		Passed:      true,
		FinalAction: ActionAllow,
	}

	for _, p := range policies {
		if p.Status != StatusPublished || !Applicable(p, in) {
			continue
		}

		match := evaluateRules(p, in)
		result.PoliciesEvaluated = append(result.PoliciesEvaluated, match)

		if combineInto(&result, p, match) {
			break // deny short-circuits the whole decision
		}
	}

	result.Passed = result.FinalAction == ActionAllow
	result.EvaluatedAt = time.Now()
	result.TotalDurationMs = result.EvaluatedAt.Sub(start).Milliseconds()
	return result
}

// evaluateRules implements spec.md §4.5's "first match sets the action;
// later matches override only if strictly more restrictive" rule, scanning
// enabled rules in ascending priority order and short-circuiting on deny.
func evaluateRules(p Policy, in EvalInput) RuleMatch {
	rules := make([]Rule, 0, len(p.Definition.Rules))
	for _, r := range p.Definition.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	var current *RuleMatch
	for _, r := range rules {
		if !condition.Evaluate(r.When, in.Context) {
			continue
		}
		if current == nil {
			current = &RuleMatch{
				PolicyID:   p.ID,
				PolicyName: p.Name,
				RuleID:     r.ID,
				Action:     r.Then.Action,
				Reason:     r.Then.Reason,
			}
		} else if MoreRestrictive(r.Then.Action, current.Action) {
			current.RuleID = r.ID
			current.Action = r.Then.Action
			current.Reason = r.Then.Reason
		}
		if current.Action == ActionDeny {
			break
		}
	}

	if current != nil {
		return *current
	}
	return RuleMatch{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Action:     p.Definition.DefaultAction,
		Reason:     p.Definition.DefaultReason,
		Default:    true,
	}
}

// combineInto folds match's action into result using the shared action
// priority ordering (spec.md §4.10) and reports whether the combined
// decision is now a deny (callers should stop walking further policies).
func combineInto(result *EvalResult, p Policy, match RuleMatch) bool {
	combined := Combine(result.FinalAction, match.Action)
	if result.AppliedPolicy == "" || MoreRestrictive(match.Action, result.FinalAction) {
		result.AppliedPolicy = p.Name
		result.Reason = match.Reason
		if rule := findRule(p, match.RuleID); rule != nil {
			result.Constraints = rule.Then.Constraints
			result.Escalation = rule.Then.Escalation
		}
	}
	result.FinalAction = combined
	return result.FinalAction == ActionDeny
}

func findRule(p Policy, ruleID string) *Rule {
	if ruleID == "" {
		return nil
	}
	for i := range p.Definition.Rules {
		if p.Definition.Rules[i].ID == ruleID {
			return &p.Definition.Rules[i]
		}
	}
	return nil
}
