package condition

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// CELCondition is the CEL-backed condition variant, adapted from the
// teacher's internal/policy/cel.go CELEvaluator/CompiledRule pair. It
// coexists with ExpressionCondition (the hand-rolled DSL) because CEL's
// richer type system and function-call surface suit complex governance
// rules that the deliberately small C1 grammar does not attempt to express
// (e.g. arithmetic over context.custom fields).
type CELCondition struct {
	Expr      string
	ast       *cel.Ast
	program   cel.Program
	evaluator *CELEvaluator
}

// CELEvaluator owns the shared cel.Env used to compile and run CELCondition
// expressions, mirroring the teacher's CELEvaluator shape exactly: a single
// env declaring the variables every evaluation context exposes.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator declares the CEL variables available to policy
// conditions: intent.*, entity.*, environment.*, trust.*, custom.* — the
// same top-level shape as condition.Context, generalized from the teacher's
// action.*/session.*/agent.* declarations to the spec's intent/entity/
// environment/trust vocabulary.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.DynType),
		cel.Variable("entity", cel.DynType),
		cel.Variable("environment", cel.DynType),
		cel.Variable("trust", cel.DynType),
		cel.Variable("custom", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: cel env: %w", err)
	}
	return &CELEvaluator{env: env, logger: logger.With("component", "condition.cel")}, nil
}

// Compile validates that expr is a well-formed boolean CEL expression and
// returns a reusable CELCondition.
func (e *CELEvaluator) Compile(expr string) (*CELCondition, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition: cel compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition: cel expression %q does not evaluate to bool", expr)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: cel program: %w", err)
	}
	return &CELCondition{Expr: expr, ast: ast, program: program, evaluator: e}, nil
}

// evaluateCELCondition runs a compiled CELCondition against ctx. Any runtime
// evaluation error is logged and treated as a non-match rather than
// propagated, so one malformed rule cannot abort policy evaluation for an
// entire request.
func evaluateCELCondition(c *CELCondition, ctx Context) bool {
	e := c.evaluator
	vars := map[string]interface{}{
		"intent":      ctx.Values["intent"],
		"entity":      ctx.Values["entity"],
		"environment": ctx.Values["environment"],
		"trust": map[string]interface{}{
			"band":  ctx.TrustBand.String(),
			"score": ctx.Values["trust.score"],
		},
		"custom": ctx.Values["custom"],
	}
	out, _, err := c.program.Eval(vars)
	if err != nil {
		e.logger.Warn("cel evaluation error", "expr", c.Expr, "error", err)
		return false
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false
	}
	return result
}
