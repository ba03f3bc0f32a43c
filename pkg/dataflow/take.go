// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"context"
	"encoding/json"

	"storj.io/zql/pkg/kvstore"
	"storj.io/zql/pkg/zdata"
)

// Take admits at most limit rows per partition (or globally when it has no
// partition key), maintaining per partition the pair (size, bound) where
// bound is the greatest currently admitted row under the operator's
// ordering. It also tracks the greatest bound across all partitions; pushed
// adds past it are dropped without a partition lookup. Fetches do not
// consult it.
type Take struct {
	input        Input
	out          Output
	storage      kvstore.Storage
	schema       *Schema
	limit        int
	partitionKey string // empty means a single global partition
	maxBound     zdata.Row
	destroyed    bool
}

// NewTake wires a limit operator above input. A negative limit is a build
// bug and panics; a zero limit is valid and admits nothing.
func NewTake(input Input, storage kvstore.Storage, limit int, partitionKey string) *Take {
	if limit < 0 {
		panic(Error.New("negative take limit %d", limit))
	}
	t := &Take{
		input:        input,
		storage:      storage,
		schema:       input.Schema(),
		limit:        limit,
		partitionKey: partitionKey,
	}
	input.SetOutput(t)
	return t
}

type takeState struct {
	Size  int       `json:"size"`
	Bound zdata.Row `json:"bound,omitempty"`
}

func (t *Take) stateKey(pval zdata.Value) kvstore.Key {
	if t.partitionKey == "" {
		return kvstore.EncodeKey("take")
	}
	return kvstore.EncodeKey("take", pval)
}

func (t *Take) loadState(ctx context.Context, pval zdata.Value) (takeState, bool) {
	data, err := t.storage.Get(ctx, t.stateKey(pval))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return takeState{}, false
		}
		panic(Error.Wrap(err))
	}
	var raw struct {
		Size  int            `json:"size"`
		Bound map[string]any `json:"bound"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		panic(Error.Wrap(err))
	}
	st := takeState{Size: raw.Size}
	if raw.Bound != nil {
		bound := make(zdata.Row, len(raw.Bound))
		for col, v := range raw.Bound {
			nv, err := zdata.Normalize(v)
			if err != nil {
				panic(Error.Wrap(err))
			}
			bound[col] = nv
		}
		st.Bound = bound
	}
	return st, true
}

func (t *Take) saveState(ctx context.Context, pval zdata.Value, st takeState) {
	data, err := json.Marshal(st)
	if err != nil {
		panic(Error.Wrap(err))
	}
	if err := t.storage.Set(ctx, t.stateKey(pval), data); err != nil {
		panic(Error.Wrap(err))
	}
	if st.Bound != nil && (t.maxBound == nil || t.schema.CompareRows(st.Bound, t.maxBound) > 0) {
		t.maxBound = st.Bound
	}
}

func (t *Take) deleteState(ctx context.Context, pval zdata.Value) {
	if err := t.storage.Delete(ctx, t.stateKey(pval)); err != nil {
		panic(Error.Wrap(err))
	}
}

func (t *Take) partitionValue(row zdata.Row) zdata.Value {
	if t.partitionKey == "" {
		return nil
	}
	return row[t.partitionKey]
}

func (t *Take) partitionReq(pval zdata.Value, start *Start, reverse bool) FetchRequest {
	req := FetchRequest{Start: start, Reverse: reverse}
	if t.partitionKey != "" {
		req.Constraint = &Constraint{Key: t.partitionKey, Value: pval}
	}
	return req
}

// Fetch implements Input. The first fetch of a partition hydrates it,
// admitting the first limit rows and recording (size, bound) additively as
// they are yielded.
func (t *Take) Fetch(ctx context.Context, req FetchRequest) Stream {
	return t.stream(ctx, req, false)
}

// Cleanup implements Input. Partition state for the matched partitions is
// dropped once the stream is exhausted; cleanup of a never-fetched
// partition is a contract violation.
func (t *Take) Cleanup(ctx context.Context, req FetchRequest) Stream {
	return t.stream(ctx, req, true)
}

type takeProgress struct {
	pval      zdata.Value
	st        takeState
	hydrating bool
	yielded   int
}

func (t *Take) stream(ctx context.Context, req FetchRequest, cleanup bool) Stream {
	if t.partitionKey != "" && req.Constraint != nil && req.Constraint.Key != t.partitionKey {
		panic(Error.New("take partitioned on %q fetched with constraint on %q", t.partitionKey, req.Constraint.Key))
	}
	if req.Reverse {
		panic(Error.New("take does not support reverse fetch"))
	}

	var upstream Stream
	if cleanup {
		upstream = t.input.Cleanup(ctx, req)
	} else {
		upstream = t.input.Fetch(ctx, req)
	}

	seen := map[string]*takeProgress{}
	finished := false
	return StreamFunc(func() (Node, bool) {
		if finished {
			return Node{}, false
		}
		for {
			node, ok := upstream.Next()
			if !ok {
				finished = true
				if cleanup {
					for _, prog := range seen {
						t.deleteState(ctx, prog.pval)
					}
				}
				return Node{}, false
			}
			pval := t.partitionValue(node.Row)
			pkey := string(t.stateKey(pval))
			prog := seen[pkey]
			if prog == nil {
				st, hydrated := t.loadState(ctx, pval)
				if !hydrated && cleanup {
					panic(Error.New("take cleanup without prior fetch for partition %v", pval))
				}
				prog = &takeProgress{pval: pval, st: st, hydrating: !hydrated}
				seen[pkey] = prog
			}

			if prog.hydrating {
				if prog.st.Size < t.limit {
					prog.st.Size++
					prog.st.Bound = node.Row
					t.saveState(ctx, pval, prog.st)
					prog.yielded++
					return node, true
				}
			} else if prog.yielded < prog.st.Size && t.schema.CompareRows(node.Row, prog.st.Bound) <= 0 {
				prog.yielded++
				return node, true
			}

			// Not admitted.
			if cleanup {
				DrainNode(node)
			} else if t.partitionKey == "" {
				// Single partition: everything past the bound is clipped.
				finished = true
				return Node{}, false
			}
		}
	})
}

// Schema implements Input.
func (t *Take) Schema() *Schema { return t.schema }

// SetOutput implements Input.
func (t *Take) SetOutput(out Output) {
	if t.out != nil {
		panic(Error.New("take output already set"))
	}
	t.out = out
}

// Destroy implements Input.
func (t *Take) Destroy() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.input.Destroy()
}

// fetchNodeAt refetches the node for an admitted row.
func (t *Take) fetchNodeAt(ctx context.Context, pval zdata.Value, row zdata.Row) Node {
	stream := t.input.Fetch(ctx, t.partitionReq(pval, &Start{Row: row, Basis: BasisAt}, false))
	node, ok := stream.Next()
	if !ok || t.schema.CompareRows(node.Row, row) != 0 {
		panic(Error.New("admitted row %v not present in input", row))
	}
	return node
}

// fetchNodeAfter returns the first input row past anchor in the partition.
func (t *Take) fetchNodeAfter(ctx context.Context, pval zdata.Value, anchor zdata.Row) (Node, bool) {
	stream := t.input.Fetch(ctx, t.partitionReq(pval, &Start{Row: anchor, Basis: BasisAfter}, false))
	return stream.Next()
}

// fetchNodeBefore returns the greatest input row before anchor in the
// partition.
func (t *Take) fetchNodeBefore(ctx context.Context, pval zdata.Value, anchor zdata.Row) (Node, bool) {
	stream := t.input.Fetch(ctx, t.partitionReq(pval, &Start{Row: anchor, Basis: BasisAfter}, true))
	return stream.Next()
}

// Push implements Output.
func (t *Take) Push(ctx context.Context, change Change, from Input) {
	if t.limit == 0 {
		return
	}
	row := change.Row()
	pval := t.partitionValue(row)
	st, hydrated := t.loadState(ctx, pval)
	if !hydrated {
		// Never fetched: downstream has observed nothing from this
		// partition, so there is nothing to maintain.
		return
	}

	switch c := change.(type) {
	case AddChange:
		t.pushAdd(ctx, pval, st, c)
	case RemoveChange:
		t.pushRemove(ctx, pval, st, c)
	case EditChange, ChildChange:
		if st.Size > 0 && t.schema.CompareRows(row, st.Bound) <= 0 {
			t.out.Push(ctx, change, t)
		}
	default:
		panic(Error.New("unknown change type %T", change))
	}
}

func (t *Take) pushAdd(ctx context.Context, pval zdata.Value, st takeState, c AddChange) {
	row := c.Node.Row
	if st.Size < t.limit {
		st.Size++
		if st.Bound == nil || t.schema.CompareRows(row, st.Bound) > 0 {
			st.Bound = row
		}
		t.saveState(ctx, pval, st)
		t.out.Push(ctx, c, t)
		return
	}
	if t.maxBound != nil && t.schema.CompareRows(row, t.maxBound) > 0 {
		return
	}
	if t.schema.CompareRows(row, st.Bound) >= 0 {
		return
	}

	// The new row displaces the current bound: remove precedes add.
	evicted := t.fetchNodeAt(ctx, pval, st.Bound)
	t.out.Push(ctx, RemoveChange{Node: evicted}, t)
	t.out.Push(ctx, c, t)

	// The input already contains the new row, so the new bound is the
	// greatest row before the evicted one.
	prev, ok := t.fetchNodeBefore(ctx, pval, st.Bound)
	if !ok {
		panic(Error.New("no row before evicted bound %v", st.Bound))
	}
	st.Bound = prev.Row
	t.saveState(ctx, pval, st)
}

func (t *Take) pushRemove(ctx context.Context, pval zdata.Value, st takeState, c RemoveChange) {
	row := c.Node.Row
	if st.Size == 0 || t.schema.CompareRows(row, st.Bound) > 0 {
		return
	}
	t.out.Push(ctx, c, t)

	// Try to backfill with the first row past the bound; the input no
	// longer contains the removed row.
	if next, ok := t.fetchNodeAfter(ctx, pval, st.Bound); ok {
		t.out.Push(ctx, AddChange{Node: next}, t)
		st.Bound = next.Row
		t.saveState(ctx, pval, st)
		return
	}

	st.Size--
	if t.schema.CompareRows(row, st.Bound) == 0 {
		st.Bound = nil
		if st.Size > 0 {
			prev, ok := t.fetchNodeBefore(ctx, pval, row)
			if !ok {
				panic(Error.New("take size %d but no row before removed bound", st.Size))
			}
			st.Bound = prev.Row
		}
	}
	t.saveState(ctx, pval, st)
}
