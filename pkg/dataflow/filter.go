// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import "context"

// Filter is the stateless predicate operator. The builder wires it directly
// above a source connection, before any relationships are attached, so the
// nodes it synthesizes for rewritten edits carry no relationships.
type Filter struct {
	input     Input
	out       Output
	schema    *Schema
	predicate Predicate
	destroyed bool
}

// NewFilter wires a filter above input.
func NewFilter(input Input, predicate Predicate) *Filter {
	f := &Filter{
		input:     input,
		schema:    input.Schema(),
		predicate: predicate,
	}
	input.SetOutput(f)
	return f
}

// Fetch implements Input.
func (f *Filter) Fetch(ctx context.Context, req FetchRequest) Stream {
	return f.filtered(f.input.Fetch(ctx, req), false)
}

// Cleanup implements Input. Nodes the predicate drops are still fully
// drained so upstream teardown completes.
func (f *Filter) Cleanup(ctx context.Context, req FetchRequest) Stream {
	return f.filtered(f.input.Cleanup(ctx, req), true)
}

func (f *Filter) filtered(upstream Stream, draining bool) Stream {
	return StreamFunc(func() (Node, bool) {
		for {
			node, ok := upstream.Next()
			if !ok {
				return Node{}, false
			}
			if f.predicate(node.Row) {
				return node, true
			}
			if draining {
				DrainNode(node)
			}
		}
	})
}

// Schema implements Input.
func (f *Filter) Schema() *Schema { return f.schema }

// SetOutput implements Input.
func (f *Filter) SetOutput(out Output) {
	if f.out != nil {
		panic(Error.New("filter output already set"))
	}
	f.out = out
}

// Destroy implements Input.
func (f *Filter) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.input.Destroy()
}

// Push implements Output. An edit whose old row satisfied and new row does
// not becomes a remove, and vice versa an add; both satisfying forwards the
// edit; neither drops it.
func (f *Filter) Push(ctx context.Context, change Change, from Input) {
	switch c := change.(type) {
	case AddChange:
		if f.predicate(c.Node.Row) {
			f.out.Push(ctx, c, f)
		}
	case RemoveChange:
		if f.predicate(c.Node.Row) {
			f.out.Push(ctx, c, f)
		}
	case EditChange:
		oldOK := f.predicate(c.OldRow)
		newOK := f.predicate(c.NewRow)
		switch {
		case oldOK && newOK:
			f.out.Push(ctx, c, f)
		case oldOK:
			f.out.Push(ctx, RemoveChange{Node: Node{Row: c.OldRow}}, f)
		case newOK:
			f.out.Push(ctx, AddChange{Node: Node{Row: c.NewRow}}, f)
		}
	case ChildChange:
		if f.predicate(c.ParentRow) {
			f.out.Push(ctx, c, f)
		}
	default:
		panic(Error.New("unknown change type %T", change))
	}
}
