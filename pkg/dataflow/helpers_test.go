// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/source"
	"storj.io/zql/pkg/zdata"
)

// item(id, rank, grp) is the table most operator tests run against.
func itemSchema() *zdata.TableSchema {
	return &zdata.TableSchema{
		Name: "item",
		Columns: map[string]zdata.Column{
			"id":   {Type: zdata.TypeNumber},
			"rank": {Type: zdata.TypeNumber, Optional: true},
			"grp":  {Type: zdata.TypeString, Optional: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func item(id float64) zdata.Row {
	return zdata.Row{"id": id, "rank": nil, "grp": nil}
}

func groupedItem(id float64, grp string) zdata.Row {
	return zdata.Row{"id": id, "rank": nil, "grp": grp}
}

// newItemConnection builds a source preloaded with rows and one connection
// ordered ascending by id.
func newItemConnection(t *testing.T, ctx context.Context, rows ...zdata.Row) (*source.Source, *source.Connection) {
	src, err := source.New(zaptest.NewLogger(t), itemSchema())
	require.NoError(t, err)
	conn, err := src.Connect(zdata.Asc("id"), nil)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, src.Push(ctx, source.Change{Type: source.ChangeAdd, Row: row}))
	}
	return src, conn
}

// capture records pushed changes in order.
type capture struct {
	changes []dataflow.Change
}

func (c *capture) Push(ctx context.Context, change dataflow.Change, from dataflow.Input) {
	c.changes = append(c.changes, change)
}

func (c *capture) reset() { c.changes = nil }

func streamIDs(stream dataflow.Stream) []float64 {
	var out []float64
	for node, ok := stream.Next(); ok; node, ok = stream.Next() {
		out = append(out, node.Row["id"].(float64))
	}
	return out
}

// changeID describes one captured change compactly for assertions.
func changeID(t *testing.T, change dataflow.Change) (kind string, id float64) {
	switch c := change.(type) {
	case dataflow.AddChange:
		return "add", c.Node.Row["id"].(float64)
	case dataflow.RemoveChange:
		return "remove", c.Node.Row["id"].(float64)
	case dataflow.EditChange:
		return "edit", c.NewRow["id"].(float64)
	case dataflow.ChildChange:
		return "child", c.ParentRow["id"].(float64)
	}
	t.Fatalf("unknown change %T", change)
	return "", 0
}

func requireChanges(t *testing.T, changes []dataflow.Change, want ...any) {
	t.Helper()
	require.Len(t, changes, len(want)/2)
	for i := 0; i < len(want); i += 2 {
		kind, id := changeID(t, changes[i/2])
		require.Equal(t, want[i].(string), kind, "change %d", i/2)
		require.Equal(t, want[i+1].(float64), id, "change %d", i/2)
	}
}
