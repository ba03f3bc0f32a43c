// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package builder compiles a query AST into a wired operator graph:
// source connections with pushed-down filters, residual filters, joins and
// existence operators for related clauses, cursor skips and limit takes,
// with fresh storage per stateful operator. Compilation is syntax-directed
// and bottom-up; failures are build errors surfaced before anything runs.
package builder

import (
	"context"
	"fmt"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/kvstore"
	"storj.io/zql/pkg/kvstore/memstore"
	"storj.io/zql/pkg/source"
	"storj.io/zql/pkg/zdata"
)

var (
	// Error is the class of build errors.
	Error = errs.Class("builder")

	mon = monkit.Package()
)

// hiddenPrefix namespaces relationships that exist only to drive an Exists
// operator, so they never collide with a materialized relationship of the
// same name.
const hiddenPrefix = "zsubq_"

// Source is the part of a source the builder needs.
type Source interface {
	Schema() *zdata.TableSchema
	Connect(ordering zdata.Ordering, filters ast.Condition) (*source.Connection, error)
}

// Catalog resolves table names to sources.
type Catalog interface {
	Source(table string) (Source, bool)
}

// Options tune compilation.
type Options struct {
	// NewStorage allocates scratch storage for one stateful operator.
	// Defaults to fresh in-memory stores.
	NewStorage func(name string) (kvstore.Storage, error)
}

// Builder compiles ASTs against a catalog.
type Builder struct {
	log     *zap.Logger
	catalog Catalog
	opts    Options
	counter int
}

// New creates a builder.
func New(log *zap.Logger, catalog Catalog, opts Options) *Builder {
	if opts.NewStorage == nil {
		opts.NewStorage = func(string) (kvstore.Storage, error) { return memstore.New(), nil }
	}
	return &Builder{log: log, catalog: catalog, opts: opts}
}

// Build compiles the query into an operator graph and returns its root.
// Destroying the root cascades through every operator down to the source
// connections.
func (b *Builder) Build(ctx context.Context, q *ast.Query) (_ dataflow.Input, err error) {
	defer mon.Task()(&ctx)(&err)
	root, err := b.buildQuery(q, "")
	if err != nil {
		return nil, err
	}
	b.log.Debug("query compiled", zap.String("table", q.Table))
	return root, nil
}

func (b *Builder) newStorage(kind string) (kvstore.Storage, error) {
	name := fmt.Sprintf("%s[%d]", kind, b.counter)
	b.counter++
	storage, err := b.opts.NewStorage(name)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return storage, nil
}

// buildQuery compiles one (sub)query. childKey is non-empty when the query
// hangs below a join; its rows are then ordered and partitioned by that
// column.
func (b *Builder) buildQuery(q *ast.Query, childKey string) (dataflow.Input, error) {
	src, ok := b.catalog.Source(q.Table)
	if !ok {
		return nil, Error.New("unknown table %q", q.Table)
	}
	schema := src.Schema()

	if err := b.validate(q, schema); err != nil {
		return nil, err
	}

	ordering := effectiveOrdering(q.OrderBy, childKey)

	pushed, residual := splitPushable(q.Where)

	conn, err := src.Connect(ordering, pushed)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if childKey != "" {
		conn.RequireSplit(childKey)
	}

	var pipeline dataflow.Input = conn
	destroyOnErr := func() { pipeline.Destroy() }

	if residual != nil {
		predicate, err := dataflow.CompileCondition(residual)
		if err != nil {
			destroyOnErr()
			return nil, Error.Wrap(err)
		}
		pipeline = dataflow.NewFilter(pipeline, predicate)
	}

	for _, related := range dedupeRelated(q.Related) {
		def := schema.Relationships[related.Name]
		conn.RequireSplit(def.ParentKey)

		subQuery := related.Query
		if subQuery == nil {
			subQuery = &ast.Query{}
		}
		if subQuery.Table == "" {
			sub := *subQuery
			sub.Table = def.Table
			subQuery = &sub
		} else if subQuery.Table != def.Table {
			destroyOnErr()
			return nil, Error.New("relationship %q targets table %q, not %q",
				related.Name, def.Table, subQuery.Table)
		}

		child, err := b.buildQuery(subQuery, def.ChildKey)
		if err != nil {
			destroyOnErr()
			return nil, err
		}

		hidden := related.Kind != ast.RelatedPlain
		name := related.Name
		if hidden {
			name = hiddenPrefix + related.Name
		}

		joinStorage, err := b.newStorage("join")
		if err != nil {
			child.Destroy()
			destroyOnErr()
			return nil, err
		}
		pipeline = dataflow.NewJoin(pipeline, child, joinStorage, def.ParentKey, def.ChildKey, name, hidden)

		if hidden {
			existsStorage, err := b.newStorage("exists")
			if err != nil {
				destroyOnErr()
				return nil, err
			}
			pipeline = dataflow.NewExists(pipeline, existsStorage, name, related.Kind == ast.RelatedNotExists)
		}
	}

	if q.Start != nil {
		basis := dataflow.BasisAt
		if q.Start.Basis == ast.BasisAfter {
			basis = dataflow.BasisAfter
		}
		pipeline = dataflow.NewSkip(pipeline, dataflow.Start{Row: q.Start.Row, Basis: basis})
	}

	if q.Limit != nil {
		takeStorage, err := b.newStorage("take")
		if err != nil {
			destroyOnErr()
			return nil, err
		}
		pipeline = dataflow.NewTake(pipeline, takeStorage, *q.Limit, childKey)
	}

	return pipeline, nil
}

func (b *Builder) validate(q *ast.Query, schema *zdata.TableSchema) error {
	knownColumn := func(col string) error {
		if _, ok := schema.Columns[col]; !ok {
			return Error.New("table %q: unknown column %q", schema.Name, col)
		}
		return nil
	}

	for _, part := range q.OrderBy {
		if err := knownColumn(part.Column); err != nil {
			return err
		}
	}
	for _, cond := range q.Where {
		if err := validateCondition(cond, knownColumn); err != nil {
			return err
		}
	}
	for _, related := range q.Related {
		if _, ok := schema.Relationships[related.Name]; !ok {
			return Error.New("table %q: unknown relationship %q", schema.Name, related.Name)
		}
	}
	if q.Limit != nil && *q.Limit < 0 {
		return Error.New("negative limit %d", *q.Limit)
	}
	if q.Start != nil {
		if q.Start.Basis != ast.BasisAt && q.Start.Basis != ast.BasisAfter {
			return Error.New("unknown start basis %q", q.Start.Basis)
		}
		for col := range q.Start.Row {
			if err := knownColumn(col); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCondition(cond ast.Condition, knownColumn func(string) error) error {
	switch c := cond.(type) {
	case ast.Compare:
		return knownColumn(c.Column)
	case ast.And:
		for _, sub := range c.Conditions {
			if err := validateCondition(sub, knownColumn); err != nil {
				return err
			}
		}
	case ast.Or:
		for _, sub := range c.Conditions {
			if err := validateCondition(sub, knownColumn); err != nil {
				return err
			}
		}
	default:
		return Error.New("unknown condition type %T", cond)
	}
	return nil
}

// effectiveOrdering leads nested queries with their child key so that
// constrained fetches seek and limit partitions group contiguously.
func effectiveOrdering(orderBy zdata.Ordering, childKey string) zdata.Ordering {
	if childKey == "" {
		return orderBy
	}
	out := zdata.Ordering{{Column: childKey}}
	for _, part := range orderBy {
		if part.Column != childKey {
			out = append(out, part)
		}
	}
	return out
}

// splitPushable partitions the conjoined where conditions into the prefix
// the source can evaluate and the residual a downstream Filter must apply.
func splitPushable(conds []ast.Condition) (pushed, residual ast.Condition) {
	var push, rest []ast.Condition
	for _, cond := range conds {
		if isPushable(cond) {
			push = append(push, cond)
		} else {
			rest = append(rest, cond)
		}
	}
	return conjoin(push), conjoin(rest)
}

func conjoin(conds []ast.Condition) ast.Condition {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return ast.And{Conditions: conds}
	}
}

// isPushable reports whether the source accepts the tree: simple
// column-op-literal comparisons (negated pattern matches excluded) and
// and/or trees of them.
func isPushable(cond ast.Condition) bool {
	switch c := cond.(type) {
	case ast.Compare:
		switch c.Op {
		case ast.OpEQ, ast.OpNE, ast.OpLT, ast.OpLE, ast.OpGT, ast.OpGE,
			ast.OpLike, ast.OpILike, ast.OpIs, ast.OpIsNot:
			return true
		}
		return false
	case ast.And:
		for _, sub := range c.Conditions {
			if !isPushable(sub) {
				return false
			}
		}
		return true
	case ast.Or:
		for _, sub := range c.Conditions {
			if !isPushable(sub) {
				return false
			}
		}
		return true
	}
	return false
}

// dedupeRelated applies the tie-break rule: when two related clauses target
// the same relationship name, the later one replaces the earlier.
func dedupeRelated(related []ast.Related) []ast.Related {
	last := map[string]int{}
	for i, r := range related {
		last[r.Name] = i
	}
	out := make([]ast.Related, 0, len(related))
	for i, r := range related {
		if last[r.Name] == i {
			out = append(out, r)
		}
	}
	return out
}
