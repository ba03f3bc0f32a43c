// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dataflow implements the streaming operator graph of the query
// engine: the node/change model flowing between operators, the shared
// Input/Output contracts, and the relational operators themselves.
//
// The engine is single-threaded cooperative. A push runs to completion
// through the whole graph before the next change is accepted; fetch streams
// are lazy and may be abandoned, in which case unconsumed rows count as
// never observed. Cleanup streams must be fully consumed.
package dataflow

import (
	"github.com/zeebo/errs"

	"storj.io/zql/pkg/zdata"
)

// Error is the class of errors returned by this package. Contract and
// invariant violations panic with an error of this class.
var Error = errs.Class("dataflow")

// Node is the unit that flows between operators: a row plus named lazy
// streams of child nodes. A relationship factory may be invoked any number
// of times, each invocation producing a fresh stream; a single stream must
// be consumed at most once, in order.
type Node struct {
	Row           zdata.Row
	Relationships map[string]StreamFactory
}

// StreamFactory produces a fresh child stream per invocation.
type StreamFactory func() Stream

// Stream lazily yields nodes.
type Stream interface {
	Next() (Node, bool)
}

// WithRelationship returns a copy of the node with one more relationship.
func (n Node) WithRelationship(name string, factory StreamFactory) Node {
	rels := make(map[string]StreamFactory, len(n.Relationships)+1)
	for k, v := range n.Relationships {
		rels[k] = v
	}
	rels[name] = factory
	return Node{Row: n.Row, Relationships: rels}
}

type emptyStream struct{}

func (emptyStream) Next() (Node, bool) { return Node{}, false }

// EmptyStream yields nothing.
func EmptyStream() Stream { return emptyStream{} }

type sliceStream struct {
	nodes []Node
	index int
}

func (s *sliceStream) Next() (Node, bool) {
	if s.index >= len(s.nodes) {
		return Node{}, false
	}
	node := s.nodes[s.index]
	s.index++
	return node, true
}

// SliceStream yields the given nodes in order.
func SliceStream(nodes ...Node) Stream { return &sliceStream{nodes: nodes} }

// StreamFunc adapts a pull function to a Stream.
type StreamFunc func() (Node, bool)

// Next implements Stream.
func (fn StreamFunc) Next() (Node, bool) { return fn() }

// First consumes at most one node from the stream, abandoning the rest.
func First(s Stream) (Node, bool) { return s.Next() }

// DrainNode fully consumes every relationship stream of the node,
// recursively. Cleanup paths use this to guarantee nested operator state is
// torn down even for nodes that are not observed downstream.
func DrainNode(n Node) {
	for _, factory := range n.Relationships {
		DrainStream(factory())
	}
}

// DrainStream fully consumes a stream including nested relationships.
func DrainStream(s Stream) {
	for node, ok := s.Next(); ok; node, ok = s.Next() {
		DrainNode(node)
	}
}
