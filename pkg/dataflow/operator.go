// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"context"

	"storj.io/zql/pkg/zdata"
)

// Basis selects whether a start anchor is included in the results.
type Basis int

const (
	// BasisAt includes the anchor row.
	BasisAt Basis = iota
	// BasisAfter starts past the anchor row. "After" always means the next
	// row the stream's ordering would yield past the anchor: the compiled
	// comparator already encodes sort direction, so the same rule holds for
	// reverse orderings.
	BasisAfter
)

// Start positions a fetch at an anchor row. The anchor is a value, not a row
// identity: it need not exist in the result, and fetching continues from the
// first row the comparator places at or past it.
type Start struct {
	Row   zdata.Row
	Basis Basis
}

// Constraint restricts a fetch to rows with an equal value in one column.
type Constraint struct {
	Key   string
	Value zdata.Value
}

// FetchRequest parameterizes Fetch and Cleanup.
type FetchRequest struct {
	Constraint *Constraint
	Start      *Start
	Reverse    bool
}

// Input is the pull side of an operator: downstream consumers fetch from it.
// Every operator in a pipeline is an Input; sources expose their
// connections as Inputs.
type Input interface {
	// Fetch yields nodes matching the request in the schema's ordering.
	// It is side-effect free except for operator-private storage that is
	// strictly additive during hydration.
	Fetch(ctx context.Context, req FetchRequest) Stream

	// Cleanup is Fetch authorized to tear down operator state for the
	// matched rows. Every node it yields must be fully consumed by the
	// caller; abandoning a cleanup stream orphans storage.
	Cleanup(ctx context.Context, req FetchRequest) Stream

	// Schema describes the rows this input yields.
	Schema() *Schema

	// SetOutput wires the single downstream consumer of pushes. One-shot.
	SetOutput(out Output)

	// Destroy tears down this input and, recursively, everything upstream
	// of it. Idempotent.
	Destroy()
}

// Output is the push side: upstream producers call Push for every change.
type Output interface {
	// Push applies a single change. It runs synchronously to completion
	// before the producer continues.
	Push(ctx context.Context, change Change, from Input)
}
