// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"context"

	"storj.io/zql/pkg/kvstore"
	"storj.io/zql/pkg/zdata"
)

// Join attaches to every parent row a named relationship whose value is the
// stream of child rows with parent[parentKey] = child[childKey].
//
// Its storage holds, per distinct parentKey value, the set of parent primary
// keys currently referencing it under ("pKeySet", parentKeyValue, parentPK).
// That set decides whether tearing down a parent may also tear down shared
// child-side state.
type Join struct {
	parent           Input
	child            Input
	out              Output
	storage          kvstore.Storage
	parentKey        string
	childKey         string
	relationshipName string
	schema           *Schema
	destroyed        bool
}

// NewJoin wires a join between a parent and a child pipeline. Joining an
// operator to itself is a configuration bug and panics.
func NewJoin(parent, child Input, storage kvstore.Storage, parentKey, childKey, relationshipName string, hidden bool) *Join {
	if parent == child {
		panic(Error.New("join parent and child must be distinct operators"))
	}
	j := &Join{
		parent:           parent,
		child:            child,
		storage:          storage,
		parentKey:        parentKey,
		childKey:         childKey,
		relationshipName: relationshipName,
		schema:           parent.Schema().WithRelationship(relationshipName, child.Schema(), hidden),
	}
	parent.SetOutput(j)
	child.SetOutput(j)
	return j
}

func (j *Join) pKeySetKey(value zdata.Value, parentRow zdata.Row) kvstore.Key {
	key := kvstore.EncodeKey("pKeySet", value)
	for _, part := range j.schema.Table.RowKey(parentRow) {
		key = kvstore.AppendKeyPart(key, part)
	}
	return key
}

func (j *Join) recordParent(ctx context.Context, parentRow zdata.Row) {
	value := parentRow[j.parentKey]
	if err := j.storage.Set(ctx, j.pKeySetKey(value, parentRow), nil); err != nil {
		panic(Error.Wrap(err))
	}
}

// forgetParent removes the parent from the primary-key set and reports
// whether any other parent still references the same parentKey value.
func (j *Join) forgetParent(ctx context.Context, parentRow zdata.Row) (remaining bool) {
	value := parentRow[j.parentKey]
	if err := j.storage.Delete(ctx, j.pKeySetKey(value, parentRow)); err != nil {
		panic(Error.Wrap(err))
	}
	err := j.storage.Scan(ctx, kvstore.ScanOptions{Prefix: kvstore.EncodeKey("pKeySet", value), Limit: 1},
		func(context.Context, kvstore.Key, kvstore.Value) error {
			remaining = true
			return nil
		})
	if err != nil {
		panic(Error.Wrap(err))
	}
	return remaining
}

func (j *Join) childFetchFactory(ctx context.Context, value zdata.Value) StreamFactory {
	return func() Stream {
		return j.child.Fetch(ctx, FetchRequest{Constraint: &Constraint{Key: j.childKey, Value: value}})
	}
}

func (j *Join) childCleanupFactory(ctx context.Context, value zdata.Value) StreamFactory {
	return func() Stream {
		return j.child.Cleanup(ctx, FetchRequest{Constraint: &Constraint{Key: j.childKey, Value: value}})
	}
}

// Fetch implements Input. Each parent fetched is recorded in the
// primary-key set; hydration state is strictly additive.
func (j *Join) Fetch(ctx context.Context, req FetchRequest) Stream {
	upstream := j.parent.Fetch(ctx, req)
	return StreamFunc(func() (Node, bool) {
		node, ok := upstream.Next()
		if !ok {
			return Node{}, false
		}
		j.recordParent(ctx, node.Row)
		value := node.Row[j.parentKey]
		return node.WithRelationship(j.relationshipName, j.childFetchFactory(ctx, value)), true
	})
}

// Cleanup implements Input. The child side is cleaned up only when the
// departing parent was the last one referencing its parentKey value;
// otherwise the shared child state must stay alive for the other parents.
func (j *Join) Cleanup(ctx context.Context, req FetchRequest) Stream {
	upstream := j.parent.Cleanup(ctx, req)
	return StreamFunc(func() (Node, bool) {
		node, ok := upstream.Next()
		if !ok {
			return Node{}, false
		}
		value := node.Row[j.parentKey]
		factory := j.childFetchFactory(ctx, value)
		if !j.forgetParent(ctx, node.Row) {
			factory = j.childCleanupFactory(ctx, value)
		}
		return node.WithRelationship(j.relationshipName, factory), true
	})
}

// Schema implements Input.
func (j *Join) Schema() *Schema { return j.schema }

// SetOutput implements Input.
func (j *Join) SetOutput(out Output) {
	if j.out != nil {
		panic(Error.New("join output already set"))
	}
	j.out = out
}

// Destroy implements Input.
func (j *Join) Destroy() {
	if j.destroyed {
		return
	}
	j.destroyed = true
	j.parent.Destroy()
	j.child.Destroy()
}

// Push implements Output.
func (j *Join) Push(ctx context.Context, change Change, from Input) {
	switch from {
	case j.parent:
		j.pushParent(ctx, change)
	case j.child:
		j.pushChild(ctx, change)
	default:
		panic(Error.New("push from unknown input"))
	}
}

func (j *Join) pushParent(ctx context.Context, change Change) {
	switch c := change.(type) {
	case AddChange:
		j.recordParent(ctx, c.Node.Row)
		value := c.Node.Row[j.parentKey]
		wrapped := c.Node.WithRelationship(j.relationshipName, j.childFetchFactory(ctx, value))
		j.out.Push(ctx, AddChange{Node: wrapped}, j)
	case RemoveChange:
		value := c.Node.Row[j.parentKey]
		factory := j.childFetchFactory(ctx, value)
		if !j.forgetParent(ctx, c.Node.Row) {
			factory = j.childCleanupFactory(ctx, value)
		}
		j.out.Push(ctx, RemoveChange{Node: c.Node.WithRelationship(j.relationshipName, factory)}, j)
	case EditChange:
		// Edits that move a row between parentKey values are split into
		// remove+add at the source; observing one here is a source bug.
		if !zdata.Equal(c.OldRow[j.parentKey], c.NewRow[j.parentKey]) {
			panic(Error.New("edit changed join parent key %q", j.parentKey))
		}
		j.out.Push(ctx, c, j)
	case ChildChange:
		j.out.Push(ctx, c, j)
	default:
		panic(Error.New("unknown change type %T", change))
	}
}

// pushChild fans a child-side change out to every parent currently matching
// its childKey value, as a child change on the relationship.
func (j *Join) pushChild(ctx context.Context, change Change) {
	var anchor zdata.Row
	switch c := change.(type) {
	case AddChange:
		anchor = c.Node.Row
	case RemoveChange:
		anchor = c.Node.Row
	case EditChange:
		if !zdata.Equal(c.OldRow[j.childKey], c.NewRow[j.childKey]) {
			panic(Error.New("edit changed join child key %q", j.childKey))
		}
		anchor = c.NewRow
	case ChildChange:
		anchor = c.ParentRow
	default:
		panic(Error.New("unknown change type %T", change))
	}

	parents := j.parent.Fetch(ctx, FetchRequest{
		Constraint: &Constraint{Key: j.parentKey, Value: anchor[j.childKey]},
	})
	for parent, ok := parents.Next(); ok; parent, ok = parents.Next() {
		j.out.Push(ctx, ChildChange{
			ParentRow:        parent.Row,
			RelationshipName: j.relationshipName,
			Child:            change,
		}, j)
	}
}
