package condition

import (
	"log/slog"

	"github.com/agentgovern/governor/internal/dsl"
)

// NewExpressionCondition compiles a C1 DSL expression once and returns a
// reusable ExpressionCondition. Used by the Policy Store's definition
// validator to reject malformed expressions at create/update time rather
// than at evaluation time.
func NewExpressionCondition(expr string) (*ExpressionCondition, error) {
	compiled, err := dsl.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &ExpressionCondition{Expr: expr, compiled: compiled}, nil
}

func evaluateExpression(c *ExpressionCondition, ctx Context) bool {
	compiled := c.compiled
	if compiled == nil {
		var err error
		compiled, err = dsl.Compile(c.Expr)
		if err != nil {
			slog.Default().Warn("condition: expression failed to compile at evaluation time", "expr", c.Expr, "error", err)
			return false
		}
	}
	result, err := compiled.Evaluate(ctx.AsDSLContext())
	if err != nil {
		slog.Default().Warn("condition: expression evaluation error", "expr", c.Expr, "error", err)
		return false
	}
	return result
}
