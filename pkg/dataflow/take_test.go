// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/kvstore/memstore"
	"storj.io/zql/pkg/source"
	"storj.io/zql/pkg/zdata"
)

func TestTakeHydrate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, conn := newItemConnection(t, ctx, item(1), item(2), item(3), item(4), item(5))
	take := dataflow.NewTake(conn, memstore.New(), 3, "")
	take.SetOutput(&capture{})

	require.Equal(t, []float64{1, 2, 3}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))
	// a second fetch serves from the recorded bound
	require.Equal(t, []float64{1, 2, 3}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))
}

func TestTakeEviction(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src, conn := newItemConnection(t, ctx, item(1), item(2), item(3), item(4), item(5))
	out := &capture{}
	take := dataflow.NewTake(conn, memstore.New(), 3, "")
	take.SetOutput(out)
	require.Equal(t, []float64{1, 2, 3}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// a row below the bound evicts the bound: remove precedes add
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(0)}))
	requireChanges(t, out.changes, "remove", 3.0, "add", 0.0)
	require.Equal(t, []float64{0, 1, 2}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// another eviction against the new bound
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(1.5)}))
	requireChanges(t, out.changes, "remove", 2.0, "add", 1.5)
	require.Equal(t, []float64{0, 1, 1.5}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// a row above the bound is dropped
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(99)}))
	require.Empty(t, out.changes)
}

func TestTakeRemoveBackfill(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src, conn := newItemConnection(t, ctx, item(1), item(2), item(3), item(4))
	out := &capture{}
	take := dataflow.NewTake(conn, memstore.New(), 3, "")
	take.SetOutput(out)
	require.Equal(t, []float64{1, 2, 3}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// removing an admitted row pulls in the next row past the bound
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeRemove, Row: item(2)}))
	requireChanges(t, out.changes, "remove", 2.0, "add", 4.0)
	require.Equal(t, []float64{1, 3, 4}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// no backfill available: the size shrinks
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeRemove, Row: item(4)}))
	requireChanges(t, out.changes, "remove", 4.0)
	require.Equal(t, []float64{1, 3}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	// removing a row above the bound is invisible
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(9)}))
	requireChanges(t, out.changes, "add", 9.0)
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(10)}))
	require.Empty(t, out.changes)
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeRemove, Row: item(10)}))
	require.Empty(t, out.changes)
}

func TestTakeEdits(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src, conn := newItemConnection(t, ctx, item(1), item(2), item(3), item(4))
	out := &capture{}
	take := dataflow.NewTake(conn, memstore.New(), 2, "")
	take.SetOutput(out)
	require.Equal(t, []float64{1, 2}, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))

	edit := func(id, rank float64) source.Change {
		oldRow := item(id)
		newRow := zdata.Row{"id": id, "rank": rank, "grp": nil}
		return source.Change{Type: source.ChangeEdit, Row: newRow, OldRow: oldRow}
	}

	require.NoError(t, src.Push(ctx, edit(2, 7)))
	requireChanges(t, out.changes, "edit", 2.0)

	out.reset()
	require.NoError(t, src.Push(ctx, edit(4, 7)))
	require.Empty(t, out.changes)
}

func TestTakeZeroLimit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src, conn := newItemConnection(t, ctx, item(1))
	out := &capture{}
	take := dataflow.NewTake(conn, memstore.New(), 0, "")
	take.SetOutput(out)

	require.Empty(t, streamIDs(take.Fetch(ctx, dataflow.FetchRequest{})))
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: item(2)}))
	require.Empty(t, out.changes)
}

func TestTakePartitioned(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src, err := source.New(zaptest.NewLogger(t), itemSchema())
	require.NoError(t, err)
	conn, err := src.Connect(zdata.Asc("grp"), nil)
	require.NoError(t, err)
	for _, row := range []zdata.Row{
		groupedItem(1, "a"), groupedItem(2, "a"), groupedItem(3, "a"),
		groupedItem(4, "b"),
	} {
		require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: row}))
	}

	out := &capture{}
	take := dataflow.NewTake(conn, memstore.New(), 2, "grp")
	take.SetOutput(out)

	fetchGroup := func(grp string) []float64 {
		return streamIDs(take.Fetch(ctx, dataflow.FetchRequest{
			Constraint: &dataflow.Constraint{Key: "grp", Value: grp},
		}))
	}

	require.Equal(t, []float64{1, 2}, fetchGroup("a"))
	require.Equal(t, []float64{4}, fetchGroup("b"))

	// a full partition evicts independently
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: groupedItem(0, "a")}))
	requireChanges(t, out.changes, "remove", 2.0, "add", 0.0)
	require.Equal(t, []float64{0, 1}, fetchGroup("a"))

	// a partition with room admits
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: groupedItem(5, "b")}))
	requireChanges(t, out.changes, "add", 5.0)

	// a never-fetched partition stays invisible
	out.reset()
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: groupedItem(6, "c")}))
	require.Empty(t, out.changes)
}
