// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ast declares the query AST the builder compiles into an operator
// graph. The AST is inert data; all behavior lives in pkg/dataflow and
// pkg/builder.
package ast

import "storj.io/zql/pkg/zdata"

// Op is a comparison operator usable in conditions.
type Op string

const (
	OpEQ       Op = "="
	OpNE       Op = "!="
	OpLT       Op = "<"
	OpLE       Op = "<="
	OpGT       Op = ">"
	OpGE       Op = ">="
	OpLike     Op = "LIKE"
	OpNotLike  Op = "NOT LIKE"
	OpILike    Op = "ILIKE"
	OpNotILike Op = "NOT ILIKE"
	OpIs       Op = "IS"
	OpIsNot    Op = "IS NOT"
)

// Condition is a predicate tree over one table's rows: either a Compare leaf
// or an And/Or of subtrees.
type Condition interface {
	condition()
}

// Compare is a simple column-op-literal comparison.
type Compare struct {
	Column string
	Op     Op
	Value  zdata.Value
}

// And is satisfied when every subtree is. An empty And is always satisfied.
type And struct {
	Conditions []Condition
}

// Or is satisfied when any subtree is. An empty Or is never satisfied.
type Or struct {
	Conditions []Condition
}

func (Compare) condition() {}
func (And) condition()     {}
func (Or) condition()      {}

// Basis selects whether a cursor anchor row is included.
type Basis string

const (
	BasisAt    Basis = "at"
	BasisAfter Basis = "after"
)

// Start is a result cursor.
type Start struct {
	Row   zdata.Row
	Basis Basis
}

// RelatedKind distinguishes materialized relationships from existence
// predicates.
type RelatedKind int

const (
	RelatedPlain RelatedKind = iota
	RelatedExists
	RelatedNotExists
)

// Related attaches a named child query, or an existence predicate over a
// declared relationship.
type Related struct {
	Name  string
	Kind  RelatedKind
	Query *Query
}

// Query is the declarative form of one (sub)query.
type Query struct {
	Table   string
	Where   []Condition
	Related []Related
	OrderBy zdata.Ordering
	Limit   *int
	Start   *Start
}
