package condition

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Evaluate is total: every Condition variant always returns a bool, never an
// error, matching the "condition evaluator idempotence" testable property
// (spec.md §8) — evaluating the same condition twice on the same context
// returns the same result with no side effects.
func Evaluate(c Condition, ctx Context) bool {
	switch {
	case c.Field != nil:
		return evaluateField(*c.Field, ctx)
	case c.Compound != nil:
		return evaluateCompound(*c.Compound, ctx)
	case c.Trust != nil:
		return evaluateTrust(*c.Trust, ctx)
	case c.Time != nil:
		return evaluateTime(*c.Time, ctx)
	case c.Expression != nil:
		return evaluateExpression(c.Expression, ctx)
	case c.CELExpression != nil:
		return evaluateCELCondition(c.CELExpression, ctx)
	default:
		return false
	}
}

func evaluateCompound(c CompoundCondition, ctx Context) bool {
	switch c.Op {
	case CompoundAnd:
		for _, nested := range c.Conditions {
			if !Evaluate(nested, ctx) {
				return false
			}
		}
		return true
	case CompoundOr:
		for _, nested := range c.Conditions {
			if Evaluate(nested, ctx) {
				return true
			}
		}
		return false
	case CompoundNot:
		if len(c.Conditions) == 0 {
			return false
		}
		return !Evaluate(c.Conditions[0], ctx)
	default:
		return false
	}
}

func evaluateTrust(c TrustCondition, ctx Context) bool {
	switch c.Op {
	case TrustEquals:
		return ctx.TrustBand == c.Band
	case TrustNotEquals:
		return ctx.TrustBand != c.Band
	case TrustGreaterThan:
		return ctx.TrustBand > c.Band
	case TrustLessThan:
		return ctx.TrustBand < c.Band
	case TrustGreaterThanOrEqual:
		return ctx.TrustBand >= c.Band
	case TrustLessThanOrEqual:
		return ctx.TrustBand <= c.Band
	default:
		return false
	}
}

func evaluateTime(c TimeCondition, ctx Context) bool {
	loc := resolveLocation(c.Timezone, ctx.Timezone)
	ts := ctx.Timestamp.In(loc)

	var actual interface{}
	switch c.Field {
	case TimeHour:
		actual = float64(ts.Hour())
	case TimeDayOfWeek:
		actual = float64(int(ts.Weekday())) // 0=Sun..6=Sat, matches time.Weekday
	case TimeDate:
		actual = ts.Format("2006-01-02")
	default:
		return false
	}

	return compareFieldOp(c.Op, actual, c.Value, true)
}

func evaluateField(c FieldCondition, ctx Context) bool {
	val, present := resolvePath(c.Field, ctx.Values)

	switch c.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}
	if !present {
		return false
	}
	return compareFieldOp(c.Op, val, c.Value, false)
}

func compareFieldOp(op Op, actual, expected interface{}, timeContext bool) bool {
	switch op {
	case OpEquals:
		return fieldEquals(actual, expected)
	case OpNotEquals:
		return !fieldEquals(actual, expected)
	case OpGreaterThan:
		cmp, ok := fieldOrdered(actual, expected)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := fieldOrdered(actual, expected)
		return ok && cmp < 0
	case OpGreaterThanOrEqual:
		cmp, ok := fieldOrdered(actual, expected)
		return ok && cmp >= 0
	case OpLessThanOrEqual:
		cmp, ok := fieldOrdered(actual, expected)
		return ok && cmp <= 0
	case OpIn:
		return fieldIn(actual, expected)
	case OpNotIn:
		return !fieldIn(actual, expected)
	case OpContains:
		return fieldContains(actual, expected)
	case OpNotContains:
		return !fieldContains(actual, expected)
	case OpStartsWith:
		as, aok := toStr(actual)
		es, eok := toStr(expected)
		return aok && eok && strings.HasPrefix(as, es)
	case OpEndsWith:
		as, aok := toStr(actual)
		es, eok := toStr(expected)
		return aok && eok && strings.HasSuffix(as, es)
	case OpMatches:
		return fieldMatches(actual, expected)
	default:
		return false
	}
}

func fieldEquals(a, b interface{}) bool {
	if an, aok := toNum(a); aok {
		if bn, bok := toNum(b); bok {
			return an == bn
		}
	}
	as, aok := toStr(a)
	bs, bok := toStr(b)
	return aok && bok && as == bs
}

// fieldOrdered returns -1/0/1 and true when a and b can be compared
// (numerically if both parse as numbers, else as strings); ordered
// comparisons against incomparable or unresolved operands are false by
// construction at the call site via the ok return.
func fieldOrdered(a, b interface{}) (int, bool) {
	if an, aok := toNum(a); aok {
		if bn, bok := toNum(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := toStr(a)
	bs, bok := toStr(b)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func fieldIn(actual, expected interface{}) bool {
	arr, ok := expected.([]interface{})
	if !ok {
		return false
	}
	for _, el := range arr {
		if fieldEquals(actual, el) {
			return true
		}
	}
	return false
}

func fieldContains(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case []interface{}:
		for _, el := range a {
			if fieldEquals(el, expected) {
				return true
			}
		}
		return false
	case string:
		es, ok := toStr(expected)
		return ok && strings.Contains(a, es)
	default:
		return false
	}
}

func fieldMatches(actual, expected interface{}) bool {
	as, aok := toStr(actual)
	pattern, pok := toStr(expected)
	if !aok || !pok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Default().Warn("condition: invalid regex in matches operator", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(as)
}

func toNum(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toStr(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case int:
		return fmt.Sprintf("%d", t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
