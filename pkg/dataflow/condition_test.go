// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/zdata"
)

func compile(t *testing.T, cond ast.Condition) dataflow.Predicate {
	predicate, err := dataflow.CompileCondition(cond)
	require.NoError(t, err)
	return predicate
}

func TestCompareOperators(t *testing.T) {
	row := zdata.Row{"n": float64(5), "s": "hello", "b": true, "empty": nil}

	cases := []struct {
		cond ast.Condition
		want bool
	}{
		{ast.Compare{Column: "n", Op: ast.OpEQ, Value: float64(5)}, true},
		{ast.Compare{Column: "n", Op: ast.OpNE, Value: float64(5)}, false},
		{ast.Compare{Column: "n", Op: ast.OpLT, Value: float64(6)}, true},
		{ast.Compare{Column: "n", Op: ast.OpLE, Value: float64(5)}, true},
		{ast.Compare{Column: "n", Op: ast.OpGT, Value: float64(5)}, false},
		{ast.Compare{Column: "n", Op: ast.OpGE, Value: float64(5)}, true},
		{ast.Compare{Column: "s", Op: ast.OpGT, Value: "h"}, true},

		// null operands: every binary comparison is false
		{ast.Compare{Column: "empty", Op: ast.OpEQ, Value: float64(1)}, false},
		{ast.Compare{Column: "empty", Op: ast.OpNE, Value: float64(1)}, false},
		{ast.Compare{Column: "empty", Op: ast.OpLT, Value: float64(1)}, false},
		{ast.Compare{Column: "n", Op: ast.OpEQ, Value: nil}, false},
		{ast.Compare{Column: "missing", Op: ast.OpEQ, Value: "x"}, false},

		// IS / IS NOT are null-safe
		{ast.Compare{Column: "empty", Op: ast.OpIs, Value: nil}, true},
		{ast.Compare{Column: "empty", Op: ast.OpIsNot, Value: nil}, false},
		{ast.Compare{Column: "n", Op: ast.OpIs, Value: nil}, false},
		{ast.Compare{Column: "n", Op: ast.OpIsNot, Value: nil}, true},
		{ast.Compare{Column: "n", Op: ast.OpIs, Value: float64(5)}, true},

		// mismatched kinds never satisfy relational ops
		{ast.Compare{Column: "n", Op: ast.OpLT, Value: "10"}, false},
		{ast.Compare{Column: "b", Op: ast.OpEQ, Value: true}, true},
	}
	for i, tc := range cases {
		require.Equal(t, tc.want, compile(t, tc.cond)(row), "case %d: %+v", i, tc.cond)
	}
}

func TestJSONComparisons(t *testing.T) {
	row := zdata.Row{"j": zdata.MustNormalize(map[string]any{"k": 1})}

	// relational comparison of JSON evaluates to false, never panics
	require.False(t, compile(t, ast.Compare{Column: "j", Op: ast.OpLT, Value: zdata.MustNormalize(map[string]any{"k": 2})})(row))
	// equality works on canonical form
	require.True(t, compile(t, ast.Compare{Column: "j", Op: ast.OpEQ, Value: zdata.MustNormalize(map[string]any{"k": float64(1)})})(row))
}

func TestLike(t *testing.T) {
	row := func(s string) zdata.Row { return zdata.Row{"s": s} }

	like := func(pattern string) dataflow.Predicate {
		return compile(t, ast.Compare{Column: "s", Op: ast.OpLike, Value: pattern})
	}

	require.True(t, like("hello")(row("hello")))
	require.False(t, like("hello")(row("Hello")))
	require.True(t, like("he%o")(row("hello")))
	require.True(t, like("h_llo")(row("hello")))
	require.False(t, like("h_llo")(row("hllo")))
	require.True(t, like("%")(row("")))
	require.True(t, like(`100\%`)(row("100%")))
	require.False(t, like(`100\%`)(row("1000")))
	require.True(t, like("%.go")(row("main.go")))
	require.False(t, like("%.go")(row("maingo")))
	// % crosses newlines
	require.True(t, like("a%b")(row("a\nb")))
	// non-string value never matches
	require.False(t, like("%")(zdata.Row{"s": float64(1)}))
}

func TestILikeAndNegations(t *testing.T) {
	row := zdata.Row{"s": "Hello Wörld"}

	require.True(t, compile(t, ast.Compare{Column: "s", Op: ast.OpILike, Value: "hello wörld"})(row))
	require.True(t, compile(t, ast.Compare{Column: "s", Op: ast.OpILike, Value: "HELLO WÖRLD"})(row))
	require.False(t, compile(t, ast.Compare{Column: "s", Op: ast.OpNotILike, Value: "hello%"})(row))
	require.True(t, compile(t, ast.Compare{Column: "s", Op: ast.OpNotLike, Value: "hello%"})(row))
}

func TestAndOr(t *testing.T) {
	row := zdata.Row{"a": float64(1), "b": float64(2)}

	and := ast.And{Conditions: []ast.Condition{
		ast.Compare{Column: "a", Op: ast.OpEQ, Value: float64(1)},
		ast.Compare{Column: "b", Op: ast.OpEQ, Value: float64(2)},
	}}
	require.True(t, compile(t, and)(row))

	or := ast.Or{Conditions: []ast.Condition{
		ast.Compare{Column: "a", Op: ast.OpEQ, Value: float64(9)},
		ast.Compare{Column: "b", Op: ast.OpEQ, Value: float64(2)},
	}}
	require.True(t, compile(t, or)(row))

	require.True(t, compile(t, ast.And{})(row))
	require.False(t, compile(t, ast.Or{})(row))

	nested := ast.And{Conditions: []ast.Condition{
		and,
		ast.Or{Conditions: []ast.Condition{ast.Compare{Column: "a", Op: ast.OpGT, Value: float64(0)}}},
	}}
	require.True(t, compile(t, nested)(row))
}
