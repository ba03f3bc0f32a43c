// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package source

import (
	"context"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/btreeset"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/zdata"
)

// Connection is a live handle onto a source: a dataflow.Input yielding the
// table's rows in one ordering, with pushed-down filters. Two connections
// with equal orderings and equal filters produce identical result streams.
type Connection struct {
	source       *Source
	idx          *index
	schema       *dataflow.Schema
	filters      ast.Condition
	predicate    dataflow.Predicate
	fullyApplied bool
	split        map[string]bool
	out          dataflow.Output
	closed       bool
}

// FullyAppliedFilters reports whether every row this connection emits is
// guaranteed to satisfy the filter tree passed to Connect. When false the
// downstream must re-apply the filters.
func (c *Connection) FullyAppliedFilters() bool { return c.fullyApplied }

// RequireSplit registers extra columns (join keys) whose edits must reach
// downstream operators as remove+add rather than edit.
func (c *Connection) RequireSplit(columns ...string) {
	for _, col := range columns {
		c.split[col] = true
	}
}

// Schema implements dataflow.Input.
func (c *Connection) Schema() *dataflow.Schema { return c.schema }

// SetOutput implements dataflow.Input.
func (c *Connection) SetOutput(out dataflow.Output) {
	if c.out != nil {
		panic(Error.New("connection output already set"))
	}
	c.out = out
}

// Destroy implements dataflow.Input: it closes the connection and releases
// its index reference. Idempotent.
func (c *Connection) Destroy() {
	if c.closed {
		return
	}
	c.closed = true
	c.source.disconnect(c)
}

// Fetch implements dataflow.Input. The stream iterates a snapshot of the
// index, so two fetches with the same request yield identical sequences
// unless a push happened in between.
func (c *Connection) Fetch(ctx context.Context, req dataflow.FetchRequest) dataflow.Stream {
	snapshot := c.idx.rows.Clone()

	var it *btreeset.Iter[zdata.Row]
	fastConstraint := false
	switch {
	case req.Start != nil:
		inclusive := req.Start.Basis == dataflow.BasisAt
		if req.Reverse {
			it = snapshot.ValuesFromReversed(req.Start.Row, inclusive)
		} else {
			it = snapshot.ValuesFrom(req.Start.Row, inclusive)
		}
	case req.Constraint != nil && !req.Reverse &&
		len(c.idx.ordering) > 0 &&
		c.idx.ordering[0].Column == req.Constraint.Key && allAscending(c.idx.ordering):
		// The constrained column leads an all-ascending ordering, so its
		// run is contiguous and a synthetic row with the remaining columns
		// null seeks to the run's first row.
		fastConstraint = true
		it = snapshot.ValuesFrom(zdata.Row{req.Constraint.Key: req.Constraint.Value}, true)
	case req.Reverse:
		it = snapshot.ValuesReversed()
	default:
		it = snapshot.Values()
	}

	return dataflow.StreamFunc(func() (dataflow.Node, bool) {
		for {
			row, ok := it.Next()
			if !ok {
				return dataflow.Node{}, false
			}
			if req.Constraint != nil {
				match := zdata.Equal(row[req.Constraint.Key], req.Constraint.Value)
				if !match {
					if fastConstraint {
						return dataflow.Node{}, false
					}
					continue
				}
			}
			if c.predicate != nil && !c.predicate(row) {
				continue
			}
			return dataflow.Node{Row: row}, true
		}
	})
}

// Cleanup implements dataflow.Input. Connections hold no per-fetch state,
// so cleanup is fetch.
func (c *Connection) Cleanup(ctx context.Context, req dataflow.FetchRequest) dataflow.Stream {
	return c.Fetch(ctx, req)
}

func allAscending(ordering zdata.Ordering) bool {
	for _, part := range ordering {
		if part.Desc {
			return false
		}
	}
	return true
}

// push translates one applied source change into operator-level changes for
// this connection. An edit that touches a sort-order or registered split
// column is rewritten into remove+add; pushed filters apply the same
// transitions a Filter would.
func (c *Connection) push(ctx context.Context, change Change) {
	if c.out == nil {
		return
	}
	switch change.Type {
	case ChangeAdd:
		if c.predicate == nil || c.predicate(change.Row) {
			c.out.Push(ctx, dataflow.AddChange{Node: dataflow.Node{Row: change.Row}}, c)
		}
	case ChangeRemove:
		if c.predicate == nil || c.predicate(change.Row) {
			c.out.Push(ctx, dataflow.RemoveChange{Node: dataflow.Node{Row: change.Row}}, c)
		}
	case ChangeEdit:
		mustSplit := false
		for _, col := range zdata.ChangedColumns(change.OldRow, change.Row) {
			if c.split[col] {
				mustSplit = true
				break
			}
		}
		if mustSplit {
			if c.predicate == nil || c.predicate(change.OldRow) {
				c.out.Push(ctx, dataflow.RemoveChange{Node: dataflow.Node{Row: change.OldRow}}, c)
			}
			if c.predicate == nil || c.predicate(change.Row) {
				c.out.Push(ctx, dataflow.AddChange{Node: dataflow.Node{Row: change.Row}}, c)
			}
			return
		}
		if c.predicate == nil {
			c.out.Push(ctx, dataflow.EditChange{NewRow: change.Row, OldRow: change.OldRow}, c)
			return
		}
		oldOK, newOK := c.predicate(change.OldRow), c.predicate(change.Row)
		switch {
		case oldOK && newOK:
			c.out.Push(ctx, dataflow.EditChange{NewRow: change.Row, OldRow: change.OldRow}, c)
		case oldOK:
			c.out.Push(ctx, dataflow.RemoveChange{Node: dataflow.Node{Row: change.OldRow}}, c)
		case newOK:
			c.out.Push(ctx, dataflow.AddChange{Node: dataflow.Node{Row: change.Row}}, c)
		}
	}
}
