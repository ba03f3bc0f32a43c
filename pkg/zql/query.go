// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package zql

import (
	"context"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/view"
	"storj.io/zql/pkg/zdata"
)

// Query is an immutable fluent query description. Every method returns a
// new query; argument errors are recorded and surfaced by Materialize or
// Run as build errors.
type Query struct {
	engine *Engine
	q      ast.Query
	err    error
}

// SubqueryFunc shapes the subquery of a related clause.
type SubqueryFunc func(*Query) *Query

func (q *Query) clone() *Query {
	out := &Query{engine: q.engine, err: q.err}
	out.q = q.q
	out.q.Where = append([]ast.Condition(nil), q.q.Where...)
	out.q.Related = append([]ast.Related(nil), q.q.Related...)
	out.q.OrderBy = append(zdata.Ordering(nil), q.q.OrderBy...)
	return out
}

func (q *Query) fail(err error) *Query {
	out := q.clone()
	if out.err == nil {
		out.err = err
	}
	return out
}

// Where conjoins a simple column-op-value predicate.
func (q *Query) Where(column string, op ast.Op, value any) *Query {
	normalized, err := zdata.Normalize(value)
	if err != nil {
		return q.fail(Error.Wrap(err))
	}
	switch op {
	case ast.OpEQ, ast.OpNE, ast.OpLT, ast.OpLE, ast.OpGT, ast.OpGE,
		ast.OpLike, ast.OpNotLike, ast.OpILike, ast.OpNotILike,
		ast.OpIs, ast.OpIsNot:
	default:
		return q.fail(Error.New("unknown operator %q", op))
	}
	out := q.clone()
	out.q.Where = append(out.q.Where, ast.Compare{Column: column, Op: op, Value: normalized})
	return out
}

// WhereCondition conjoins a full condition tree.
func (q *Query) WhereCondition(cond ast.Condition) *Query {
	out := q.clone()
	out.q.Where = append(out.q.Where, cond)
	return out
}

// Related attaches a named child result, optionally shaped by a subquery.
func (q *Query) Related(name string, sub ...SubqueryFunc) *Query {
	return q.related(name, ast.RelatedPlain, sub...)
}

// WhereExists keeps only rows whose named relationship has at least one
// matching row.
func (q *Query) WhereExists(name string, sub ...SubqueryFunc) *Query {
	return q.related(name, ast.RelatedExists, sub...)
}

// WhereNotExists keeps only rows whose named relationship is empty.
func (q *Query) WhereNotExists(name string, sub ...SubqueryFunc) *Query {
	return q.related(name, ast.RelatedNotExists, sub...)
}

func (q *Query) related(name string, kind ast.RelatedKind, sub ...SubqueryFunc) *Query {
	if len(sub) > 1 {
		return q.fail(Error.New("relationship %q: at most one subquery", name))
	}
	var subAST *ast.Query
	if len(sub) == 1 {
		shaped := sub[0](&Query{engine: q.engine})
		if shaped.err != nil {
			return q.fail(shaped.err)
		}
		cp := shaped.q
		subAST = &cp
	}
	out := q.clone()
	out.q.Related = append(out.q.Related, ast.Related{Name: name, Kind: kind, Query: subAST})
	return out
}

// OrderBy appends to the ordering; the primary key is appended
// automatically at build time. dir is "asc" or "desc".
func (q *Query) OrderBy(column, dir string) *Query {
	var desc bool
	switch dir {
	case "asc":
	case "desc":
		desc = true
	default:
		return q.fail(Error.New("invalid order direction %q", dir))
	}
	out := q.clone()
	out.q.OrderBy = append(out.q.OrderBy, zdata.SortPart{Column: column, Desc: desc})
	return out
}

// Limit bounds the result. Zero is a valid, always-empty query.
func (q *Query) Limit(n int) *Query {
	out := q.clone()
	out.q.Limit = &n
	return out
}

// Start positions the result at a cursor row. basis is "at" (anchor
// included) or "after" (anchor excluded).
func (q *Query) Start(row map[string]any, basis ast.Basis) *Query {
	normalized, err := zdata.NormalizeRow(row)
	if err != nil {
		return q.fail(Error.Wrap(err))
	}
	out := q.clone()
	out.q.Start = &ast.Start{Row: normalized, Basis: basis}
	return out
}

// Materialize compiles the query, hydrates a view and returns its handle.
func (q *Query) Materialize(ctx context.Context) (*Handle, error) {
	if q.err != nil {
		return nil, q.err
	}
	astQuery := q.q
	root, err := q.engine.builder.Build(ctx, &astQuery)
	if err != nil {
		return nil, err
	}
	v := view.New(q.engine.log.Named("view"), root)
	if err := v.Hydrate(ctx); err != nil {
		v.Destroy()
		return nil, err
	}
	return &Handle{view: v}, nil
}

// Run materializes, snapshots and destroys in one shot.
func (q *Query) Run(ctx context.Context) ([]map[string]any, error) {
	handle, err := q.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Destroy()
	return handle.Rows(), nil
}

// Handle is a live materialized view.
type Handle struct {
	view *view.View
}

// Snapshot returns the current result as structured readonly entries.
func (h *Handle) Snapshot() []*view.Entry { return h.view.Snapshot() }

// Rows returns the current hierarchical snapshot in JSON shape.
func (h *Handle) Rows() []map[string]any { return h.view.Rows() }

// AddListener registers a change listener; it fires immediately with the
// current snapshot.
func (h *Handle) AddListener(fn view.ListenerFunc) *view.Listener {
	return h.view.AddListener(fn)
}

// RemoveListener unregisters a listener.
func (h *Handle) RemoveListener(l *view.Listener) { h.view.RemoveListener(l) }

// Destroy tears down the view, every operator, and the source connections
// the query holds. Idempotent.
func (h *Handle) Destroy() { h.view.Destroy() }
