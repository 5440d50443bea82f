// Package condition implements the Condition Evaluator (C2): the structured
// field/compound/trust/time condition tree used inside policy rules. The
// Condition type is a tagged union (per the "polymorphic conditions" design
// note in spec.md §9) rather than a class hierarchy — each variant carries
// its own evaluation logic.
package condition

import (
	"strings"
	"time"

	"github.com/agentgovern/governor/internal/dsl"
	"github.com/agentgovern/governor/internal/trust"
)

// Op is a field comparison operator.
type Op string

const (
	OpEquals             Op = "equals"
	OpNotEquals          Op = "not_equals"
	OpGreaterThan        Op = "greater_than"
	OpLessThan           Op = "less_than"
	OpGreaterThanOrEqual Op = "greater_than_or_equal"
	OpLessThanOrEqual    Op = "less_than_or_equal"
	OpIn                 Op = "in"
	OpNotIn              Op = "not_in"
	OpContains           Op = "contains"
	OpNotContains        Op = "not_contains"
	OpStartsWith         Op = "starts_with"
	OpEndsWith           Op = "ends_with"
	OpMatches            Op = "matches"
	OpExists             Op = "exists"
	OpNotExists          Op = "not_exists"
)

// CompoundOp is a boolean combinator for Compound conditions.
type CompoundOp string

const (
	CompoundAnd CompoundOp = "and"
	CompoundOr  CompoundOp = "or"
	CompoundNot CompoundOp = "not"
)

// TrustOp is a comparison operator for Trust conditions; bands are ordered
// T0 < T1 < ... < T5, so the same operator vocabulary as Field numeric
// comparisons applies.
type TrustOp string

const (
	TrustEquals             TrustOp = "equals"
	TrustNotEquals          TrustOp = "not_equals"
	TrustGreaterThan        TrustOp = "greater_than"
	TrustLessThan           TrustOp = "less_than"
	TrustGreaterThanOrEqual TrustOp = "greater_than_or_equal"
	TrustLessThanOrEqual    TrustOp = "less_than_or_equal"
)

// TimeField selects which component of environment.timestamp a Time
// condition inspects.
type TimeField string

const (
	TimeHour      TimeField = "hour"
	TimeDayOfWeek TimeField = "dayOfWeek"
	TimeDate      TimeField = "date"
)

// Condition is the sum type: exactly one of Field, Compound, Trust, Time,
// Expression, or CELExpression is non-nil for any valid value.
type Condition struct {
	Field         *FieldCondition
	Compound      *CompoundCondition
	Trust         *TrustCondition
	Time          *TimeCondition
	Expression    *ExpressionCondition
	CELExpression *CELCondition
}

// FieldCondition resolves `field` as a dotted path through the context and
// applies `op`.
type FieldCondition struct {
	Field string
	Op    Op
	Value interface{}
}

// CompoundCondition combines nested conditions with and/or/not.
type CompoundCondition struct {
	Op         CompoundOp
	Conditions []Condition
}

// TrustCondition compares the evaluation context's current trust band.
type TrustCondition struct {
	Band trust.Band
	Op   TrustOp
}

// TimeCondition materialises hour/dayOfWeek/date from environment.timestamp
// in the given timezone (default context timezone, then UTC) and compares.
type TimeCondition struct {
	Field    TimeField
	Op       Op
	Value    interface{}
	Timezone string
}

// ExpressionCondition embeds a DSL (C1) boolean expression, letting policy
// authors drop into the compact predicate language instead of nesting
// structured conditions.
type ExpressionCondition struct {
	Expr     string
	compiled *dsl.Compiled
}

// Context is the evaluation context a Condition is run against: the same
// shape as spec.md §4.5's Policy Evaluator input. It doubles as a dsl.Context
// so Expression conditions share the identical dotted-path resolution rules
// as structured Field conditions.
type Context struct {
	Values    map[string]interface{}
	TrustBand trust.Band
	Timestamp time.Time
	Timezone  string
}

// AsDSLContext projects Context into the map shape internal/dsl evaluates
// against.
func (c Context) AsDSLContext() dsl.Context {
	return dsl.Context(c.Values)
}

func resolvePath(path string, values map[string]interface{}) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = values
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

