// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"context"
	"strconv"

	"storj.io/zql/pkg/kvstore"
	"storj.io/zql/pkg/zdata"
)

// Exists wraps a pipeline so that only parents whose named relationship
// contains at least one row pass through (or the complement, for
// NOT EXISTS). It maintains, per parent primary key, the count of matching
// children currently present; only transitions across the 0/1 boundary
// change parent membership downstream.
type Exists struct {
	input            Input
	out              Output
	storage          kvstore.Storage
	relationshipName string
	not              bool
	schema           *Schema
	destroyed        bool
}

// NewExists wires an existence operator above input, which must provide the
// named relationship (normally the Join built for it).
func NewExists(input Input, storage kvstore.Storage, relationshipName string, not bool) *Exists {
	schema := input.Schema()
	if _, ok := schema.Relationships[relationshipName]; !ok {
		panic(Error.New("exists over unknown relationship %q", relationshipName))
	}
	e := &Exists{
		input:            input,
		storage:          storage,
		relationshipName: relationshipName,
		not:              not,
		schema:           schema,
	}
	input.SetOutput(e)
	return e
}

func (e *Exists) countKey(row zdata.Row) kvstore.Key {
	key := kvstore.EncodeKey("count")
	for _, part := range e.schema.Table.RowKey(row) {
		key = kvstore.AppendKeyPart(key, part)
	}
	return key
}

func (e *Exists) loadCount(ctx context.Context, row zdata.Row) (count int, ok bool) {
	value, err := e.storage.Get(ctx, e.countKey(row))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return 0, false
		}
		panic(Error.Wrap(err))
	}
	count, convErr := strconv.Atoi(string(value))
	if convErr != nil {
		panic(Error.Wrap(convErr))
	}
	return count, true
}

func (e *Exists) storeCount(ctx context.Context, row zdata.Row, count int) {
	if count < 0 {
		panic(Error.New("negative child count for row %v", row))
	}
	if err := e.storage.Set(ctx, e.countKey(row), kvstore.Value(strconv.Itoa(count))); err != nil {
		panic(Error.Wrap(err))
	}
}

func (e *Exists) deleteCount(ctx context.Context, row zdata.Row) {
	if err := e.storage.Delete(ctx, e.countKey(row)); err != nil {
		panic(Error.Wrap(err))
	}
}

// countChildren consumes one instance of the relationship stream.
func (e *Exists) countChildren(node Node) int {
	factory, ok := node.Relationships[e.relationshipName]
	if !ok {
		panic(Error.New("node lacks relationship %q", e.relationshipName))
	}
	stream := factory()
	count := 0
	for _, ok := stream.Next(); ok; _, ok = stream.Next() {
		count++
	}
	return count
}

func (e *Exists) visible(count int) bool {
	if e.not {
		return count == 0
	}
	return count > 0
}

// Fetch implements Input. Child counts computed during hydration are cached
// in storage so pushes can decide boundary transitions without refetching.
func (e *Exists) Fetch(ctx context.Context, req FetchRequest) Stream {
	upstream := e.input.Fetch(ctx, req)
	return StreamFunc(func() (Node, bool) {
		for {
			node, ok := upstream.Next()
			if !ok {
				return Node{}, false
			}
			count, cached := e.loadCount(ctx, node.Row)
			if !cached {
				count = e.countChildren(node)
				e.storeCount(ctx, node.Row, count)
			}
			if e.visible(count) {
				return node, true
			}
		}
	})
}

// Cleanup implements Input. Counts must have been established by a prior
// fetch; dropped nodes are drained so nested teardown completes.
func (e *Exists) Cleanup(ctx context.Context, req FetchRequest) Stream {
	upstream := e.input.Cleanup(ctx, req)
	return StreamFunc(func() (Node, bool) {
		for {
			node, ok := upstream.Next()
			if !ok {
				return Node{}, false
			}
			count, cached := e.loadCount(ctx, node.Row)
			if !cached {
				panic(Error.New("cleanup without prior fetch for row %v", node.Row))
			}
			e.deleteCount(ctx, node.Row)
			if e.visible(count) {
				return node, true
			}
			DrainNode(node)
		}
	})
}

// Schema implements Input.
func (e *Exists) Schema() *Schema { return e.schema }

// SetOutput implements Input.
func (e *Exists) SetOutput(out Output) {
	if e.out != nil {
		panic(Error.New("exists output already set"))
	}
	e.out = out
}

// Destroy implements Input.
func (e *Exists) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	e.input.Destroy()
}

// fetchNodeForRow refetches the node for a row from the input, anchored at
// the row itself under the pipeline ordering.
func (e *Exists) fetchNodeForRow(ctx context.Context, row zdata.Row) Node {
	stream := e.input.Fetch(ctx, FetchRequest{Start: &Start{Row: row, Basis: BasisAt}})
	node, ok := stream.Next()
	if !ok || e.schema.CompareRows(node.Row, row) != 0 {
		panic(Error.New("row %v not present in input", row))
	}
	return node
}

// Push implements Output.
func (e *Exists) Push(ctx context.Context, change Change, from Input) {
	switch c := change.(type) {
	case AddChange:
		count := e.countChildren(c.Node)
		e.storeCount(ctx, c.Node.Row, count)
		if e.visible(count) {
			e.out.Push(ctx, c, e)
		}
	case RemoveChange:
		count, cached := e.loadCount(ctx, c.Node.Row)
		if !cached {
			panic(Error.New("remove without prior add for row %v", c.Node.Row))
		}
		e.deleteCount(ctx, c.Node.Row)
		if e.visible(count) {
			e.out.Push(ctx, c, e)
		}
	case EditChange:
		count, cached := e.loadCount(ctx, c.NewRow)
		if cached && e.visible(count) {
			e.out.Push(ctx, c, e)
		}
	case ChildChange:
		e.pushChild(ctx, c)
	default:
		panic(Error.New("unknown change type %T", change))
	}
}

func (e *Exists) pushChild(ctx context.Context, c ChildChange) {
	if c.RelationshipName != e.relationshipName {
		count, cached := e.loadCount(ctx, c.ParentRow)
		if cached && e.visible(count) {
			e.out.Push(ctx, c, e)
		}
		return
	}

	count, cached := e.loadCount(ctx, c.ParentRow)
	if !cached {
		panic(Error.New("child change for untracked row %v", c.ParentRow))
	}

	switch c.Child.(type) {
	case AddChange:
		count++
		e.storeCount(ctx, c.ParentRow, count)
		if count == 1 {
			e.crossBoundary(ctx, c.ParentRow, true)
			return
		}
	case RemoveChange:
		count--
		e.storeCount(ctx, c.ParentRow, count)
		if count == 0 {
			e.crossBoundary(ctx, c.ParentRow, false)
			return
		}
	}

	// No boundary crossed: deeper changes stay child changes for EXISTS
	// parents, and NOT EXISTS parents have no children to report.
	if !e.not && count > 0 {
		e.out.Push(ctx, c, e)
	}
}

// crossBoundary emits the membership change for a 0/1 transition. gained
// reports whether the relationship now has children.
func (e *Exists) crossBoundary(ctx context.Context, row zdata.Row, gained bool) {
	node := e.fetchNodeForRow(ctx, row)
	if gained != e.not {
		e.out.Push(ctx, AddChange{Node: node}, e)
	} else {
		e.out.Push(ctx, RemoveChange{Node: node}, e)
	}
}
