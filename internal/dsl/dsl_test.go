package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		expr string
		ctx  Context
		want bool
	}{
		{
			name: "in and trust score allow",
			expr: `user.role IN ['admin','supervisor'] OR trust.score >= 800`,
			ctx: Context{
				"user":  map[string]interface{}{"role": "user"},
				"trust": map[string]interface{}{"score": 850.0},
			},
			want: true,
		},
		{
			name: "in and trust score deny",
			expr: `user.role IN ['admin','supervisor'] OR trust.score >= 800`,
			ctx: Context{
				"user":  map[string]interface{}{"role": "user"},
				"trust": map[string]interface{}{"score": 799.0},
			},
			want: false,
		},
		{
			name: "like wildcard",
			expr: `agent.name LIKE 'svc-%'`,
			ctx:  Context{"agent": map[string]interface{}{"name": "svc-billing"}},
			want: true,
		},
		{
			name: "not and parens",
			expr: `NOT (a.b == 1 AND a.c == 2)`,
			ctx:  Context{"a": map[string]interface{}{"b": 1.0, "c": 3.0}},
			want: true,
		},
		{
			name: "missing path ordered comparison is false",
			expr: `missing.field > 5`,
			ctx:  Context{},
			want: false,
		},
		{
			name: "null equals null",
			expr: `x == NULL`,
			ctx:  Context{"x": nil},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			compiled, err := Compile(tc.expr)
			require.NoError(t, err)
			got, err := compiled.Evaluate(tc.ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidate_ParseTotality(t *testing.T) {
	valid := []string{
		`a.b == 1`,
		`a.b == 'x' AND c.d != 2`,
		`NOT a.b`,
		`a.b IN [1,2,3]`,
		`(a.b OR c.d) AND NOT e.f`,
	}
	for _, expr := range valid {
		res := Validate(expr)
		assert.True(t, res.Valid, "expected %q to be valid, got %v", expr, res.Error)
		_, err := Parse(mustTokenize(t, expr))
		assert.NoError(t, err)
	}

	invalid := []string{
		``,
		`a.b ==`,
		`(a.b`,
		`a.b == 'unterminated`,
		`a.b ?? c.d`,
	}
	for _, expr := range invalid {
		res := Validate(expr)
		assert.False(t, res.Valid, "expected %q to be invalid", expr)
	}
}

func mustTokenize(t *testing.T, expr string) []Token {
	t.Helper()
	tokens, err := Tokenize(expr)
	require.NoError(t, err)
	return tokens
}

func TestLexer_UnterminatedString(t *testing.T) {
	_, err := Tokenize(`a.b == 'oops`)
	require.Error(t, err)
	var lexErr *LexerError
	require.ErrorAs(t, err, &lexErr)
}

func TestParser_EmptyExpression(t *testing.T) {
	_, err := Tokenize("")
	require.NoError(t, err)
	_, err = Parse([]Token{{Kind: KindEOF}})
	require.Error(t, err)
	var parseErr *ParserError
	require.ErrorAs(t, err, &parseErr)
}

func TestEvaluate_InMixedNumericString(t *testing.T) {
	compiled, err := Compile(`a.n IN [1,2,'3']`)
	require.NoError(t, err)
	got, err := compiled.Evaluate(Context{"a": map[string]interface{}{"n": 3.0}})
	require.NoError(t, err)
	assert.True(t, got)
}
