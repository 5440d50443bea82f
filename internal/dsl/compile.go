package dsl

// Compiled is an immutable, thread-safe parsed expression. Multiple
// goroutines may call Evaluate concurrently on the same Compiled value.
type Compiled struct {
	source string
	ast    Node
}

// Source returns the original expression text.
func (c *Compiled) Source() string {
	return c.source
}

// Evaluate runs the compiled expression against ctx.
func (c *Compiled) Evaluate(ctx Context) (bool, error) {
	return Evaluate(c.ast, ctx)
}

// Compile tokenizes and parses expr, returning a reusable Compiled value.
func Compile(expr string) (*Compiled, error) {
	tokens, err := Tokenize(expr)
	if err != nil {
		return nil, err
	}
	ast, err := Parse(tokens)
	if err != nil {
		return nil, err
	}
	return &Compiled{source: expr, ast: ast}, nil
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid bool
	Error error
	AST   Node
}

// Validate reports whether expr lexes and parses without error, without
// requiring a context to evaluate against.
func Validate(expr string) ValidationResult {
	tokens, err := Tokenize(expr)
	if err != nil {
		return ValidationResult{Valid: false, Error: err}
	}
	ast, err := Parse(tokens)
	if err != nil {
		return ValidationResult{Valid: false, Error: err}
	}
	return ValidationResult{Valid: true, AST: ast}
}
