// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import (
	"context"

	"storj.io/zql/pkg/zdata"
)

// Skip realizes a start cursor: it forwards only rows at or past a fixed
// anchor under the pipeline's compiled comparator. Because the comparator
// already encodes sort direction, "after" means the next row the ordering
// would yield past the anchor on both forward and reverse orderings. The
// anchor is a value: deleting the anchor row leaves the cutoff in place and
// the pipeline continues from the first row past it.
type Skip struct {
	input     Input
	out       Output
	schema    *Schema
	start     Start
	destroyed bool
}

// NewSkip wires a cursor cutoff above input.
func NewSkip(input Input, start Start) *Skip {
	s := &Skip{
		input:  input,
		schema: input.Schema(),
		start:  start,
	}
	input.SetOutput(s)
	return s
}

// admitted reports whether a row is at or past the cutoff.
func (s *Skip) admitted(row zdata.Row) bool {
	cmp := s.schema.CompareRows(row, s.start.Row)
	if cmp == 0 {
		return s.start.Basis == BasisAt
	}
	return cmp > 0
}

// effectiveStart resolves the caller's start against the cutoff: whichever
// anchor admits fewer rows wins.
func (s *Skip) effectiveStart(req FetchRequest) *Start {
	if req.Reverse {
		// Reverse fetches walk back toward the cutoff; the caller's start
		// stands and push-side admission still applies.
		return req.Start
	}
	if req.Start == nil {
		start := s.start
		return &start
	}
	cmp := s.schema.CompareRows(req.Start.Row, s.start.Row)
	switch {
	case cmp > 0:
		return req.Start
	case cmp < 0:
		start := s.start
		return &start
	case req.Start.Basis == BasisAfter:
		return req.Start
	default:
		start := s.start
		return &start
	}
}

// Fetch implements Input.
func (s *Skip) Fetch(ctx context.Context, req FetchRequest) Stream {
	req.Start = s.effectiveStart(req)
	return s.clip(s.input.Fetch(ctx, req), false)
}

// Cleanup implements Input.
func (s *Skip) Cleanup(ctx context.Context, req FetchRequest) Stream {
	req.Start = s.effectiveStart(req)
	return s.clip(s.input.Cleanup(ctx, req), true)
}

// clip guards reverse streams (and defensive upstreams) that can still
// yield rows before the cutoff.
func (s *Skip) clip(upstream Stream, draining bool) Stream {
	return StreamFunc(func() (Node, bool) {
		for {
			node, ok := upstream.Next()
			if !ok {
				return Node{}, false
			}
			if s.admitted(node.Row) {
				return node, true
			}
			if draining {
				DrainNode(node)
			}
		}
	})
}

// Schema implements Input.
func (s *Skip) Schema() *Schema { return s.schema }

// SetOutput implements Input.
func (s *Skip) SetOutput(out Output) {
	if s.out != nil {
		panic(Error.New("skip output already set"))
	}
	s.out = out
}

// Destroy implements Input.
func (s *Skip) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.input.Destroy()
}

// Push implements Output. Changes anchored before the cutoff were never
// observed downstream and are dropped; edits cannot move a row across the
// cutoff because sort-order columns are immutable under edit.
func (s *Skip) Push(ctx context.Context, change Change, from Input) {
	if !s.admitted(change.Row()) {
		return
	}
	s.out.Push(ctx, change, s)
}
