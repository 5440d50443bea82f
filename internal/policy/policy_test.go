package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgovern/governor/internal/condition"
	"github.com/agentgovern/governor/internal/trust"
)

func TestChecksum_Deterministic(t *testing.T) {
	def := Definition{
		Version:       "1.0",
		DefaultAction: ActionAllow,
		Rules: []Rule{
			{ID: "r1", Name: "rule one", Priority: 1, Enabled: true, Then: RuleAction{Action: ActionDeny}},
		},
	}
	c1, err := Checksum(def)
	require.NoError(t, err)
	c2, err := Checksum(def)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Len(t, c1, 16)
}

func TestChecksum_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2}
	b := map[string]interface{}{"a": 2, "b": 1}
	ca, err := canonicalJSON(a)
	require.NoError(t, err)
	cb, err := canonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCombine_DenyAbsorbsAll(t *testing.T) {
	assert.Equal(t, ActionDeny, Combine(ActionAllow, ActionDeny))
	assert.Equal(t, ActionDeny, Combine(ActionDeny, ActionTerminate))
}

func TestCombine_EscalateAbsorbsAllow(t *testing.T) {
	assert.Equal(t, ActionEscalate, Combine(ActionEscalate, ActionAllow))
	assert.Equal(t, ActionEscalate, Combine(ActionAllow, ActionEscalate))
}

func TestCombine_MoreRestrictiveWins(t *testing.T) {
	assert.Equal(t, ActionLimit, Combine(ActionMonitor, ActionLimit))
}

func TestValidateDefinition_RejectsBadVersion(t *testing.T) {
	def := Definition{Version: "2.0", DefaultAction: ActionAllow}
	errs := ValidateDefinition(def, nil)
	assert.False(t, errs.Valid())
}

func TestValidateDefinition_RejectsInvalidTrustBand(t *testing.T) {
	def := Definition{
		Version:       "1.0",
		DefaultAction: ActionAllow,
		Rules: []Rule{
			{
				ID: "r1", Name: "bad band", Priority: 1, Enabled: true,
				When: condition.Condition{Trust: &condition.TrustCondition{Band: trust.Band(99), Op: condition.TrustEquals}},
				Then: RuleAction{Action: ActionAllow},
			},
		},
	}
	errs := ValidateDefinition(def, nil)
	assert.False(t, errs.Valid())
}

func TestValidateDefinition_AcceptsWellFormed(t *testing.T) {
	def := Definition{
		Version:       "1.0",
		DefaultAction: ActionAllow,
		Rules: []Rule{
			{
				ID: "r1", Name: "payment limit", Priority: 1, Enabled: true,
				When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.amount", Op: condition.OpGreaterThan, Value: 1000.0}},
				Then: RuleAction{Action: ActionLimit},
			},
		},
	}
	errs := ValidateDefinition(def, nil)
	assert.True(t, errs.Valid())
}

func evalCtx() condition.Context {
	return condition.Context{
		Values: map[string]interface{}{
			"intent": map[string]interface{}{"intentType": "payment", "amount": 5000.0},
		},
		TrustBand: trust.T2,
		Timestamp: time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
	}
}

func TestEvaluate_FirstMatchSetsAction(t *testing.T) {
	p := Policy{
		ID: "p1", Name: "payments", Status: StatusPublished,
		Definition: Definition{
			Version:       "1.0",
			DefaultAction: ActionAllow,
			Rules: []Rule{
				{
					ID: "low-priority-monitor", Name: "monitor", Priority: 10, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.intentType", Op: condition.OpEquals, Value: "payment"}},
					Then: RuleAction{Action: ActionMonitor},
				},
				{
					ID: "high-priority-limit", Name: "limit large payments", Priority: 20, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.amount", Op: condition.OpGreaterThan, Value: 1000.0}},
					Then: RuleAction{Action: ActionLimit},
				},
			},
		},
	}
	result := Evaluate([]Policy{p}, EvalInput{IntentType: "payment", Context: evalCtx()})
	assert.Equal(t, ActionLimit, result.FinalAction, "later match overrides only because limit is strictly more restrictive than monitor")
}

func TestEvaluate_LaterMatchDoesNotOverrideWhenLessRestrictive(t *testing.T) {
	p := Policy{
		ID: "p1", Name: "payments", Status: StatusPublished,
		Definition: Definition{
			Version:       "1.0",
			DefaultAction: ActionAllow,
			Rules: []Rule{
				{
					ID: "deny-first", Name: "deny", Priority: 1, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.intentType", Op: condition.OpEquals, Value: "payment"}},
					Then: RuleAction{Action: ActionDeny},
				},
				{
					ID: "allow-second", Name: "allow", Priority: 2, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.amount", Op: condition.OpGreaterThan, Value: 1.0}},
					Then: RuleAction{Action: ActionAllow},
				},
			},
		},
	}
	result := Evaluate([]Policy{p}, EvalInput{IntentType: "payment", Context: evalCtx()})
	assert.Equal(t, ActionDeny, result.FinalAction)
}

func TestEvaluate_DefaultActionWhenNoRuleMatches(t *testing.T) {
	p := Policy{
		ID: "p1", Name: "fallback", Status: StatusPublished,
		Definition: Definition{
			Version:       "1.0",
			DefaultAction: ActionMonitor,
			Rules: []Rule{
				{
					ID: "r1", Name: "never matches", Priority: 1, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.intentType", Op: condition.OpEquals, Value: "withdrawal"}},
					Then: RuleAction{Action: ActionDeny},
				},
			},
		},
	}
	result := Evaluate([]Policy{p}, EvalInput{IntentType: "payment", Context: evalCtx()})
	assert.Equal(t, ActionMonitor, result.FinalAction)
}

func TestEvaluate_ApplicabilityFilterExcludesPolicy(t *testing.T) {
	p := Policy{
		ID: "p1", Name: "withdrawals-only", Status: StatusPublished,
		Definition: Definition{
			Version:       "1.0",
			DefaultAction: ActionDeny,
			Target:        &Target{IntentTypes: []string{"withdrawal"}},
		},
	}
	result := Evaluate([]Policy{p}, EvalInput{IntentType: "payment", Context: evalCtx()})
	assert.Equal(t, ActionAllow, result.FinalAction, "policy not targeted at this intent type should not apply")
}

func TestEvaluate_CrossPolicyCombinationShortCircuitsOnDeny(t *testing.T) {
	allowPolicy := Policy{
		ID: "p1", Name: "allow-all", Status: StatusPublished,
		Definition: Definition{Version: "1.0", DefaultAction: ActionAllow},
	}
	denyPolicy := Policy{
		ID: "p2", Name: "deny-all", Status: StatusPublished,
		Definition: Definition{Version: "1.0", DefaultAction: ActionDeny},
	}
	result := Evaluate([]Policy{allowPolicy, denyPolicy}, EvalInput{IntentType: "payment", Context: evalCtx()})
	assert.Equal(t, ActionDeny, result.FinalAction)
	assert.False(t, result.Passed)
}

func TestEvaluate_Deterministic(t *testing.T) {
	p := Policy{
		ID: "p1", Name: "payments", Status: StatusPublished,
		Definition: Definition{
			Version:       "1.0",
			DefaultAction: ActionAllow,
			Rules: []Rule{
				{
					ID: "r1", Name: "limit", Priority: 1, Enabled: true,
					When: condition.Condition{Field: &condition.FieldCondition{Field: "intent.amount", Op: condition.OpGreaterThan, Value: 1000.0}},
					Then: RuleAction{Action: ActionLimit},
				},
			},
		},
	}
	in := EvalInput{IntentType: "payment", Context: evalCtx()}
	first := Evaluate([]Policy{p}, in)
	second := Evaluate([]Policy{p}, in)
	assert.Equal(t, first.FinalAction, second.FinalAction)
	assert.Equal(t, first.AppliedPolicy, second.AppliedPolicy)
}

func TestDecodeConstraints_ShellBlocksDisallowedCommand(t *testing.T) {
	raw := map[string]interface{}{
		"shell": map[string]interface{}{
			"enabled":         true,
			"allowedCommands": []interface{}{"ls", "cat"},
		},
	}
	cs, err := DecodeConstraints(raw)
	require.NoError(t, err)
	result := cs.Check("tool.call", map[string]interface{}{"command": "rm -rf /"})
	assert.False(t, result.Allowed)
}

func TestDecodeConstraints_FinancialLimitsTransaction(t *testing.T) {
	raw := map[string]interface{}{
		"financial": map[string]interface{}{"maxTransaction": 500.0},
	}
	cs, err := DecodeConstraints(raw)
	require.NoError(t, err)
	result := cs.Check("financial.transfer", map[string]interface{}{"amount": 5000.0})
	assert.False(t, result.Allowed)
}

func TestDecodeConstraints_NilIsPermissive(t *testing.T) {
	cs, err := DecodeConstraints(nil)
	require.NoError(t, err)
	result := cs.Check("financial.transfer", map[string]interface{}{"amount": 5000.0})
	assert.True(t, result.Allowed)
}
