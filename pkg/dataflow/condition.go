// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"regexp"
	"strings"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/zdata"
)

// Predicate reports whether a row satisfies a compiled condition.
type Predicate func(zdata.Row) bool

// CompileCondition compiles a condition tree once into a closure. Binary
// comparisons with a null operand evaluate to false except IS / IS NOT, and
// comparisons between kinds with no defined relational order evaluate to
// false, never panic.
func CompileCondition(cond ast.Condition) (Predicate, error) {
	switch c := cond.(type) {
	case ast.Compare:
		return compileCompare(c)
	case ast.And:
		preds, err := compileAll(c.Conditions)
		if err != nil {
			return nil, err
		}
		return func(row zdata.Row) bool {
			for _, p := range preds {
				if !p(row) {
					return false
				}
			}
			return true
		}, nil
	case ast.Or:
		preds, err := compileAll(c.Conditions)
		if err != nil {
			return nil, err
		}
		return func(row zdata.Row) bool {
			for _, p := range preds {
				if p(row) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, Error.New("unknown condition type %T", cond)
}

func compileAll(conds []ast.Condition) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for _, c := range conds {
		p, err := CompileCondition(c)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func compileCompare(c ast.Compare) (Predicate, error) {
	column, lit := c.Column, c.Value
	switch c.Op {
	case ast.OpIs:
		return func(row zdata.Row) bool { return zdata.Equal(row[column], lit) }, nil
	case ast.OpIsNot:
		return func(row zdata.Row) bool { return !zdata.Equal(row[column], lit) }, nil

	case ast.OpEQ, ast.OpNE:
		wantEqual := c.Op == ast.OpEQ
		return func(row zdata.Row) bool {
			v := row[column]
			if v == nil || lit == nil {
				return false
			}
			return zdata.Equal(v, lit) == wantEqual
		}, nil

	case ast.OpLT, ast.OpLE, ast.OpGT, ast.OpGE:
		op := c.Op
		return func(row zdata.Row) bool {
			v := row[column]
			if v == nil || lit == nil {
				return false
			}
			kind := zdata.KindOf(v)
			if kind != zdata.KindOf(lit) || kind == zdata.KindJSON {
				return false
			}
			cmp := zdata.Compare(v, lit)
			switch op {
			case ast.OpLT:
				return cmp < 0
			case ast.OpLE:
				return cmp <= 0
			case ast.OpGT:
				return cmp > 0
			default:
				return cmp >= 0
			}
		}, nil

	case ast.OpLike, ast.OpNotLike, ast.OpILike, ast.OpNotILike:
		pattern, ok := lit.(string)
		if !ok {
			// A non-string (or null) pattern is never satisfied, NOT
			// variants included.
			return func(zdata.Row) bool { return false }, nil
		}
		insensitive := c.Op == ast.OpILike || c.Op == ast.OpNotILike
		negated := c.Op == ast.OpNotLike || c.Op == ast.OpNotILike
		re, err := compileLike(pattern, insensitive)
		if err != nil {
			return nil, err
		}
		return func(row zdata.Row) bool {
			s, ok := row[column].(string)
			if !ok {
				return false
			}
			return re.MatchString(s) != negated
		}, nil
	}
	return nil, Error.New("unknown operator %q", c.Op)
}

// compileLike translates a SQL LIKE pattern (% any run, _ one char, backslash
// escapes) into an anchored regexp. ILIKE gets regexp case-insensitivity,
// which applies Unicode simple case folding.
func compileLike(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				b.WriteString(regexp.QuoteMeta(`\`))
			}
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return re, nil
}
