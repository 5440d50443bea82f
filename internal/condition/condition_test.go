package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgovern/governor/internal/trust"
)

func baseContext() Context {
	return Context{
		Values: map[string]interface{}{
			"intent": map[string]interface{}{
				"intentType": "payment",
				"amount":     5000.0,
			},
		},
		TrustBand: trust.T2,
		Timestamp: time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
	}
}

func TestEvaluate_Field(t *testing.T) {
	c := Condition{Field: &FieldCondition{Field: "intent.intentType", Op: OpEquals, Value: "payment"}}
	assert.True(t, Evaluate(c, baseContext()))

	c2 := Condition{Field: &FieldCondition{Field: "intent.amount", Op: OpGreaterThanOrEqual, Value: 1000.0}}
	assert.True(t, Evaluate(c2, baseContext()))

	c3 := Condition{Field: &FieldCondition{Field: "intent.missing", Op: OpExists}}
	assert.False(t, Evaluate(c3, baseContext()))

	c4 := Condition{Field: &FieldCondition{Field: "intent.missing", Op: OpNotExists}}
	assert.True(t, Evaluate(c4, baseContext()))
}

func TestEvaluate_FieldOrderedAgainstMissingIsFalse(t *testing.T) {
	c := Condition{Field: &FieldCondition{Field: "intent.missing", Op: OpGreaterThan, Value: 5.0}}
	assert.False(t, Evaluate(c, baseContext()))
}

func TestEvaluate_Trust(t *testing.T) {
	c := Condition{Trust: &TrustCondition{Band: trust.T4, Op: TrustLessThan}}
	assert.True(t, Evaluate(c, baseContext()))

	c2 := Condition{Trust: &TrustCondition{Band: trust.T4, Op: TrustGreaterThanOrEqual}}
	assert.False(t, Evaluate(c2, baseContext()))
}

func TestEvaluate_Compound(t *testing.T) {
	inner1 := Condition{Field: &FieldCondition{Field: "intent.intentType", Op: OpEquals, Value: "payment"}}
	inner2 := Condition{Trust: &TrustCondition{Band: trust.T4, Op: TrustLessThan}}
	and := Condition{Compound: &CompoundCondition{Op: CompoundAnd, Conditions: []Condition{inner1, inner2}}}
	assert.True(t, Evaluate(and, baseContext()))

	not := Condition{Compound: &CompoundCondition{Op: CompoundNot, Conditions: []Condition{inner2}}}
	assert.False(t, Evaluate(not, baseContext()))
}

func TestEvaluate_Time(t *testing.T) {
	c := Condition{Time: &TimeCondition{Field: TimeHour, Op: OpEquals, Value: 10.0}}
	assert.True(t, Evaluate(c, baseContext()))

	c2 := Condition{Time: &TimeCondition{Field: TimeDate, Op: OpEquals, Value: "2026-01-20"}}
	assert.True(t, Evaluate(c2, baseContext()))
}

func TestEvaluate_Idempotent(t *testing.T) {
	c := Condition{Field: &FieldCondition{Field: "intent.amount", Op: OpGreaterThan, Value: 1.0}}
	ctx := baseContext()
	first := Evaluate(c, ctx)
	second := Evaluate(c, ctx)
	assert.Equal(t, first, second)
}

func TestEvaluate_Expression(t *testing.T) {
	expr, err := NewExpressionCondition(`intent.intentType == 'payment' AND intent.amount >= 1000`)
	require.NoError(t, err)
	c := Condition{Expression: expr}
	assert.True(t, Evaluate(c, baseContext()))
}

func TestCELEvaluator_CompileAndEvaluate(t *testing.T) {
	ev, err := NewCELEvaluator(nil)
	require.NoError(t, err)
	compiled, err := ev.Compile(`intent.intentType == "payment"`)
	require.NoError(t, err)
	c := Condition{CELExpression: compiled}
	assert.True(t, Evaluate(c, baseContext()))
}

func TestCELEvaluator_RejectsNonBool(t *testing.T) {
	ev, err := NewCELEvaluator(nil)
	require.NoError(t, err)
	_, err = ev.Compile(`intent.amount`)
	assert.Error(t, err)
}
