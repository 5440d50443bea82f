package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EvaluatorError reports an unknown node kind — unreachable for any AST
// produced by Parse, but the evaluator still guards against it so a
// hand-constructed AST can never crash silently.
type EvaluatorError struct {
	Node Node
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("dsl: cannot evaluate node of type %T", e.Node)
}

// Context is the nested map an expression is evaluated against. Dotted
// identifier paths walk through it segment by segment.
type Context map[string]interface{}

// Evaluate walks ast against ctx and returns its truthiness.
func Evaluate(ast Node, ctx Context) (bool, error) {
	v, err := eval(ast, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// missing is a sentinel distinguishing "path not found" from a real nil/NULL
// value so that comparisons against NULL behave per spec.
type missing struct{}

func eval(n Node, ctx Context) (interface{}, error) {
	switch t := n.(type) {
	case Literal:
		return t.Value, nil
	case Ident:
		return resolve(t.Path, ctx), nil
	case ArrayLit:
		vals := make([]interface{}, 0, len(t.Elements))
		for _, el := range t.Elements {
			v, err := eval(el, ctx)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	case Unary:
		v, err := eval(t.Operand, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case Binary:
		return evalBinary(t, ctx)
	default:
		return nil, &EvaluatorError{Node: n}
	}
}

func evalBinary(b Binary, ctx Context) (interface{}, error) {
	switch b.Op {
	case KindAnd:
		left, err := eval(b.Left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := eval(b.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case KindOr:
		left, err := eval(b.Left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := eval(b.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := eval(b.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := eval(b.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case KindEq:
		return compareEquals(left, right), nil
	case KindNeq:
		return !compareEquals(left, right), nil
	case KindGte, KindLte, KindGt, KindLt:
		return compareOrdered(b.Op, left, right), nil
	case KindIn:
		return evalIn(left, right), nil
	case KindLike:
		return evalLike(left, right), nil
	default:
		return nil, &EvaluatorError{Node: b}
	}
}

// resolve walks a dotted path through nested maps. Any missing segment
// yields the missing sentinel.
func resolve(path string, ctx Context) interface{} {
	segments := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(ctx)
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return missing{}
		}
		v, ok := m[seg]
		if !ok {
			return missing{}
		}
		cur = v
	}
	return cur
}

func isMissing(v interface{}) bool {
	_, ok := v.(missing)
	return ok
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case missing:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// asNumber reports whether v is (or parses as) a number, and its value.
func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
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

func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// compareEquals implements equality with the spec's null semantics: null
// equals only null.
func compareEquals(left, right interface{}) bool {
	leftNull := left == nil || isMissing(left)
	rightNull := right == nil || isMissing(right)
	if leftNull || rightNull {
		return leftNull && rightNull
	}
	if ln, lok := asNumber(left); lok {
		if rn, rok := asNumber(right); rok {
			return ln == rn
		}
	}
	ls, _ := asString(left)
	rs, _ := asString(right)
	return ls == rs
}

// compareOrdered implements >=, <=, >, < with numeric-if-possible coercion.
// Ordered comparisons against null/missing are always false.
func compareOrdered(op Kind, left, right interface{}) bool {
	if left == nil || right == nil || isMissing(left) || isMissing(right) {
		return false
	}
	if ln, lok := asNumber(left); lok {
		if rn, rok := asNumber(right); rok {
			return orderedNumeric(op, ln, rn)
		}
	}
	ls, lok := asString(left)
	rs, rok := asString(right)
	if !lok || !rok {
		return false
	}
	return orderedString(op, ls, rs)
}

func orderedNumeric(op Kind, l, r float64) bool {
	switch op {
	case KindGte:
		return l >= r
	case KindLte:
		return l <= r
	case KindGt:
		return l > r
	case KindLt:
		return l < r
	}
	return false
}

func orderedString(op Kind, l, r string) bool {
	switch op {
	case KindGte:
		return l >= r
	case KindLte:
		return l <= r
	case KindGt:
		return l > r
	case KindLt:
		return l < r
	}
	return false
}

// evalIn matches left against each element of the right-hand array by
// string equality, or numeric equality when both sides are numeric.
func evalIn(left, right interface{}) bool {
	arr, ok := right.([]interface{})
	if !ok {
		return false
	}
	for _, el := range arr {
		if compareEquals(left, el) {
			return true
		}
	}
	return false
}

// evalLike matches case-insensitively with SQL-style wildcards: % = any
// run of characters, _ = exactly one character. The match is anchored
// (full-string), not a substring search.
func evalLike(left, right interface{}) bool {
	ls, lok := asString(left)
	rs, rok := asString(right)
	if !lok || !rok {
		return false
	}
	pattern := likeToRegexp(rs)
	re, err := regexp.Compile("(?is)^" + pattern + "$")
	if err != nil {
		return false
	}
	return re.MatchString(ls)
}

func likeToRegexp(like string) string {
	var sb strings.Builder
	for _, r := range like {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return sb.String()
}
