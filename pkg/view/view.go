// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package view materializes the root of an operator graph into a
// hierarchical, listener-observable result with a stable order.
package view

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/zdata"
)

var (
	// Error is the class of errors returned by this package.
	Error = errs.Class("view")

	mon = monkit.Package()
)

// ListenerFunc observes the view after each applied change. The argument is
// a readonly snapshot reference; listeners must not retain mutable access.
type ListenerFunc func(*View)

// Listener is a registration handle.
type Listener struct {
	fn ListenerFunc
}

// View maintains the materialized result of a query and fans out change
// notifications. It is the single downstream output of the root operator.
type View struct {
	log       *zap.Logger
	root      dataflow.Input
	schema    *dataflow.Schema
	tree      *subview
	listeners []*Listener
	hydrated  bool
	destroyed bool
}

type subview struct {
	schema  *dataflow.Schema
	entries []*entry
}

type entry struct {
	row      zdata.Row
	children map[string]*subview
}

// New wires a view above the root operator.
func New(log *zap.Logger, root dataflow.Input) *View {
	schema := root.Schema()
	v := &View{
		log:    log,
		root:   root,
		schema: schema,
		tree:   &subview{schema: schema},
	}
	root.SetOutput(v)
	return v
}

// Hydrate populates the view from the root's fetch, once. Listeners
// registered before hydration are invoked with the hydration result.
func (v *View) Hydrate(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if v.hydrated {
		return Error.New("view already hydrated")
	}
	stream := v.root.Fetch(ctx, dataflow.FetchRequest{})
	for node, ok := stream.Next(); ok; node, ok = stream.Next() {
		v.tree.apply(dataflow.AddChange{Node: node})
	}
	v.hydrated = true
	v.notify()
	return nil
}

// Push implements dataflow.Output. The full change tree is applied before
// listeners run, and listeners run exactly once per top-level push.
func (v *View) Push(ctx context.Context, change dataflow.Change, from dataflow.Input) {
	v.tree.apply(change)
	v.notify()
}

// AddListener registers a listener. A listener added after hydration is
// invoked immediately with the current snapshot.
func (v *View) AddListener(fn ListenerFunc) *Listener {
	l := &Listener{fn: fn}
	v.listeners = append(v.listeners, l)
	if v.hydrated {
		fn(v)
	}
	return l
}

// RemoveListener unregisters a listener.
func (v *View) RemoveListener(l *Listener) {
	for i, have := range v.listeners {
		if have == l {
			v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
			return
		}
	}
}

func (v *View) notify() {
	for _, l := range v.listeners {
		l.fn(v)
	}
}

// Destroy tears down the root operator and everything upstream of it.
// Idempotent.
func (v *View) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.listeners = nil
	v.root.Destroy()
}

// Len returns the number of top-level rows.
func (v *View) Len() int { return len(v.tree.entries) }

// Entry is one row of a snapshot together with its visible related
// sub-views. Entries are fresh readonly projections; mutating them does not
// affect the view.
type Entry struct {
	Row     zdata.Row
	Related map[string][]*Entry
}

// Snapshot returns the current hierarchical result as structured entries.
func (v *View) Snapshot() []*Entry {
	return v.tree.snapshot()
}

func (sv *subview) snapshot() []*Entry {
	out := make([]*Entry, 0, len(sv.entries))
	for _, e := range sv.entries {
		entry := &Entry{Row: e.row}
		if len(e.children) > 0 {
			entry.Related = make(map[string][]*Entry, len(e.children))
			for name, child := range e.children {
				entry.Related[name] = child.snapshot()
			}
		}
		out = append(out, entry)
	}
	return out
}

// Rows returns the hierarchical snapshot: one map per row, with visible
// relationships nested as arrays under their names.
func (v *View) Rows() []map[string]any {
	return v.tree.rows()
}

func (sv *subview) rows() []map[string]any {
	out := make([]map[string]any, 0, len(sv.entries))
	for _, e := range sv.entries {
		row := make(map[string]any, len(e.row)+len(e.children))
		for col, val := range e.row {
			row[col] = val
		}
		names := make([]string, 0, len(e.children))
		for name := range e.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			row[name] = e.children[name].rows()
		}
		out = append(out, row)
	}
	return out
}

// search finds the position of row under the subview's comparator.
func (sv *subview) search(row zdata.Row) (int, bool) {
	i := sort.Search(len(sv.entries), func(i int) bool {
		return sv.schema.CompareRows(sv.entries[i].row, row) >= 0
	})
	found := i < len(sv.entries) && sv.schema.CompareRows(sv.entries[i].row, row) == 0
	return i, found
}

func (sv *subview) apply(change dataflow.Change) {
	switch c := change.(type) {
	case dataflow.AddChange:
		sv.applyAdd(c.Node)
	case dataflow.RemoveChange:
		sv.applyRemove(c.Node)
	case dataflow.EditChange:
		sv.applyEdit(c)
	case dataflow.ChildChange:
		sv.applyChild(c)
	default:
		panic(Error.New("unknown change type %T", change))
	}
}

func (sv *subview) applyAdd(node dataflow.Node) {
	i, found := sv.search(node.Row)
	if found {
		panic(Error.New("add of row already in view: %v", node.Row))
	}
	e := &entry{row: node.Row}

	names := make([]string, 0, len(sv.schema.Relationships))
	for name := range sv.schema.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		related := sv.schema.Relationships[name]
		factory, ok := node.Relationships[name]
		if !ok {
			continue
		}
		stream := factory()
		if related.Hidden {
			// Existence-only relationships are consumed for their side
			// effects but never materialized.
			dataflow.DrainStream(stream)
			continue
		}
		child := &subview{schema: related.Schema}
		for childNode, ok := stream.Next(); ok; childNode, ok = stream.Next() {
			child.applyAdd(childNode)
		}
		if e.children == nil {
			e.children = map[string]*subview{}
		}
		e.children[name] = child
	}

	sv.entries = append(sv.entries, nil)
	copy(sv.entries[i+1:], sv.entries[i:])
	sv.entries[i] = e
}

func (sv *subview) applyRemove(node dataflow.Node) {
	i, found := sv.search(node.Row)
	if !found {
		panic(Error.New("remove of row not in view: %v", node.Row))
	}
	// Consume the node's streams fully so upstream cleanup completes, then
	// drop the subtree.
	dataflow.DrainNode(node)
	sv.entries = append(sv.entries[:i], sv.entries[i+1:]...)
}

func (sv *subview) applyEdit(c dataflow.EditChange) {
	i, found := sv.search(c.OldRow)
	if !found {
		panic(Error.New("edit of row not in view: %v", c.OldRow))
	}
	// Sort-order columns are immutable under edit, so the position holds.
	sv.entries[i].row = c.NewRow
}

func (sv *subview) applyChild(c dataflow.ChildChange) {
	i, found := sv.search(c.ParentRow)
	if !found {
		panic(Error.New("child change for row not in view: %v", c.ParentRow))
	}
	related, ok := sv.schema.Relationships[c.RelationshipName]
	if !ok {
		panic(Error.New("child change for unknown relationship %q", c.RelationshipName))
	}
	if related.Hidden {
		drainChange(c.Child)
		return
	}
	child := sv.entries[i].children[c.RelationshipName]
	if child == nil {
		child = &subview{schema: related.Schema}
		if sv.entries[i].children == nil {
			sv.entries[i].children = map[string]*subview{}
		}
		sv.entries[i].children[c.RelationshipName] = child
	}
	child.apply(c.Child)
}

// drainChange consumes any node streams carried by a change that will not
// be materialized.
func drainChange(change dataflow.Change) {
	switch c := change.(type) {
	case dataflow.AddChange:
		dataflow.DrainNode(c.Node)
	case dataflow.RemoveChange:
		dataflow.DrainNode(c.Node)
	case dataflow.ChildChange:
		drainChange(c.Child)
	}
}
