// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package source_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/source"
	"storj.io/zql/pkg/zdata"
)

func issueSchema() *zdata.TableSchema {
	return &zdata.TableSchema{
		Name: "issue",
		Columns: map[string]zdata.Column{
			"id":       {Type: zdata.TypeNumber},
			"open":     {Type: zdata.TypeBool},
			"assignee": {Type: zdata.TypeString, Optional: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func issue(id float64, open bool, assignee string) zdata.Row {
	row := zdata.Row{"id": id, "open": open}
	if assignee != "" {
		row["assignee"] = assignee
	} else {
		row["assignee"] = nil
	}
	return row
}

type capture struct {
	changes []dataflow.Change
}

func (c *capture) Push(ctx context.Context, change dataflow.Change, from dataflow.Input) {
	c.changes = append(c.changes, change)
}

func collectRows(stream dataflow.Stream) []zdata.Row {
	var rows []zdata.Row
	for node, ok := stream.Next(); ok; node, ok = stream.Next() {
		rows = append(rows, node.Row)
	}
	return rows
}

func ids(rows []zdata.Row) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		out = append(out, row["id"].(float64))
	}
	return out
}

func newSource(t *testing.T) *source.Source {
	src, err := source.New(zaptest.NewLogger(t), issueSchema())
	require.NoError(t, err)
	return src
}

func TestPushAndFetch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	conn, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	out := &capture{}
	conn.SetOutput(out)

	for _, row := range []zdata.Row{issue(2, true, ""), issue(1, false, "a"), issue(3, true, "b")} {
		require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: row}))
	}

	rows := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{}))
	require.Equal(t, []float64{1, 2, 3}, ids(rows))

	// identical fetches yield identical sequences
	again := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{}))
	require.Equal(t, rows, again)

	require.Len(t, out.changes, 3)
	for _, change := range out.changes {
		require.IsType(t, dataflow.AddChange{}, change)
	}

	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeRemove, Row: issue(2, true, "")}))
	require.Equal(t, []float64{1, 3}, ids(collectRows(conn.Fetch(ctx, dataflow.FetchRequest{}))))
	require.IsType(t, dataflow.RemoveChange{}, out.changes[3])
}

func TestFetchRequests(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	conn, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	conn.SetOutput(&capture{})

	for id := 1; id <= 5; id++ {
		require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(float64(id), id%2 == 1, "")}))
	}

	at := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{
		Start: &dataflow.Start{Row: issue(3, true, ""), Basis: dataflow.BasisAt},
	}))
	require.Equal(t, []float64{3, 4, 5}, ids(at))

	after := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{
		Start: &dataflow.Start{Row: issue(3, true, ""), Basis: dataflow.BasisAfter},
	}))
	require.Equal(t, []float64{4, 5}, ids(after))

	// anchor need not exist
	gap := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{
		Start: &dataflow.Start{Row: issue(2.5, true, ""), Basis: dataflow.BasisAfter},
	}))
	require.Equal(t, []float64{3, 4, 5}, ids(gap))

	reverse := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{
		Start:   &dataflow.Start{Row: issue(3, true, ""), Basis: dataflow.BasisAfter},
		Reverse: true,
	}))
	require.Equal(t, []float64{2, 1}, ids(reverse))

	constrained := collectRows(conn.Fetch(ctx, dataflow.FetchRequest{
		Constraint: &dataflow.Constraint{Key: "open", Value: true},
	}))
	require.Equal(t, []float64{1, 3, 5}, ids(constrained))
}

func TestPushedFilters(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	conn, err := src.Connect(zdata.Asc("id"), ast.Compare{Column: "open", Op: ast.OpEQ, Value: true})
	require.NoError(t, err)
	require.True(t, conn.FullyAppliedFilters())
	out := &capture{}
	conn.SetOutput(out)

	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(1, true, "")}))
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(2, false, "")}))
	require.Len(t, out.changes, 1)

	require.Equal(t, []float64{1}, ids(collectRows(conn.Fetch(ctx, dataflow.FetchRequest{}))))

	// edit moving the row out of the filter becomes a remove
	require.NoError(t, src.Push(ctx, source.Change{
		Type: source.ChangeEdit, Row: issue(1, false, ""), OldRow: issue(1, true, ""),
	}))
	require.IsType(t, dataflow.RemoveChange{}, out.changes[1])

	// and back in becomes an add
	require.NoError(t, src.Push(ctx, source.Change{
		Type: source.ChangeEdit, Row: issue(2, true, ""), OldRow: issue(2, false, ""),
	}))
	require.IsType(t, dataflow.AddChange{}, out.changes[2])
}

func TestEditSplitOnSortColumn(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	byAssignee, err := src.Connect(zdata.Asc("assignee"), nil)
	require.NoError(t, err)
	assigneeOut := &capture{}
	byAssignee.SetOutput(assigneeOut)

	byID, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	idOut := &capture{}
	byID.SetOutput(idOut)

	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(1, true, "a")}))
	require.NoError(t, src.Push(ctx, source.Change{
		Type: source.ChangeEdit, Row: issue(1, true, "b"), OldRow: issue(1, true, "a"),
	}))

	// the assignee connection sorts on the edited column: remove then add
	require.Len(t, assigneeOut.changes, 3)
	require.IsType(t, dataflow.RemoveChange{}, assigneeOut.changes[1])
	require.IsType(t, dataflow.AddChange{}, assigneeOut.changes[2])

	// the id connection does not: a plain edit
	require.Len(t, idOut.changes, 2)
	require.IsType(t, dataflow.EditChange{}, idOut.changes[1])
}

func TestIndexSharingAndRefcounts(t *testing.T) {
	src := newSource(t)

	a, err := src.Connect(zdata.Desc("assignee"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, src.SecondaryIndexCount())

	b, err := src.Connect(zdata.Desc("assignee"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, src.SecondaryIndexCount())

	// primary-key ordering needs no secondary index
	c, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, src.SecondaryIndexCount())
	require.Equal(t, 3, src.ConnectionCount())

	a.Destroy()
	require.Equal(t, 1, src.SecondaryIndexCount())
	b.Destroy()
	require.Equal(t, 0, src.SecondaryIndexCount())
	b.Destroy() // idempotent
	c.Destroy()
	require.Equal(t, 0, src.ConnectionCount())
}

func TestValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	// missing required column
	err := src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: zdata.Row{"id": float64(1)}})
	require.Error(t, err)
	require.Zero(t, src.Len())

	// primary key must not be null
	err = src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: zdata.Row{"id": nil, "open": true, "assignee": nil}})
	require.Error(t, err)

	// edit must keep the primary key
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(1, true, "")}))
	err = src.Push(ctx, source.Change{
		Type: source.ChangeEdit, Row: issue(2, true, ""), OldRow: issue(1, true, ""),
	})
	require.Error(t, err)

	// duplicate add is fatal
	require.Panics(t, func() {
		_ = src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(1, false, "")})
	})
	// remove of a missing row is fatal
	require.Panics(t, func() {
		_ = src.Push(ctx, source.Change{Type: source.ChangeRemove, Row: issue(9, false, "")})
	})
}

func TestGenPush(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	src := newSource(t)

	a, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	aOut := &capture{}
	a.SetOutput(aOut)

	b, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	bOut := &capture{}
	b.SetOutput(bOut)

	gen, err := src.GenPush(ctx, source.Change{Type: source.ChangeAdd, Row: issue(1, true, "")})
	require.NoError(t, err)

	// the change is applied to the indices up front
	require.Equal(t, 1, src.Len())
	require.Empty(t, aOut.changes)

	require.True(t, gen.Step())
	require.Len(t, aOut.changes, 1)
	require.Empty(t, bOut.changes)

	require.True(t, gen.Step())
	require.Len(t, bOut.changes, 1)

	require.False(t, gen.Step())
	require.False(t, gen.Step())

	// committed: the next push is accepted
	require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: issue(2, true, "")}))
}
