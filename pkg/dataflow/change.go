// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import "storj.io/zql/pkg/zdata"

// Change is a single row-level delta propagating through the graph. It is
// one of AddChange, RemoveChange, EditChange or ChildChange.
type Change interface {
	// Row returns the row the change anchors to in the stream it travels on.
	Row() zdata.Row
}

// AddChange introduces a row (and its children) into the result.
type AddChange struct {
	Node Node
}

// RemoveChange removes a row (and its children) from the result.
type RemoveChange struct {
	Node Node
}

// EditChange replaces a row's non-key fields. OldRow and NewRow agree on
// every primary key column and on every column the stream's sort order
// references; changes that would violate that are split into remove+add
// upstream before they reach an operator.
type EditChange struct {
	NewRow zdata.Row
	OldRow zdata.Row
}

// ChildChange reports that a descendant of Row changed while Row itself is
// unchanged.
type ChildChange struct {
	ParentRow        zdata.Row
	RelationshipName string
	Child            Change
}

func (c AddChange) Row() zdata.Row    { return c.Node.Row }
func (c RemoveChange) Row() zdata.Row { return c.Node.Row }
func (c EditChange) Row() zdata.Row   { return c.NewRow }
func (c ChildChange) Row() zdata.Row  { return c.ParentRow }
