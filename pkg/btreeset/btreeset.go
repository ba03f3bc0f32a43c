// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package btreeset provides a sorted set keyed by a caller-supplied total
// order, with positional iteration and cheap structural clones. It backs the
// row indices of sources and the in-memory operator storage.
package btreeset

import (
	"github.com/tidwall/btree"
	"github.com/zeebo/errs"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("btreeset")

// Set is a sorted set of unique-by-comparator elements. The engine is
// single-threaded cooperative, so sets carry no locks; callers that iterate
// across suspension points must Clone first.
type Set[T any] struct {
	compare func(a, b T) int
	tree    *btree.BTreeG[T]
}

// New creates an empty set ordered by compare.
func New[T any](compare func(a, b T) int) *Set[T] {
	return &Set[T]{
		compare: compare,
		tree: btree.NewBTreeGOptions(func(a, b T) bool {
			return compare(a, b) < 0
		}, btree.Options{NoLocks: true}),
	}
}

// NewFromSorted bulk-constructs a set from a strictly increasing sequence.
// This path is much faster than element-wise Add for large inputs; unsorted
// or duplicate input is rejected.
func NewFromSorted[T any](compare func(a, b T) int, items []T) (*Set[T], error) {
	set := New(compare)
	for i, item := range items {
		if i > 0 && compare(items[i-1], item) >= 0 {
			return nil, Error.New("bulk input not strictly increasing at index %d", i)
		}
		set.tree.Load(item)
	}
	return set, nil
}

// Add inserts v, replacing the unique equal element if present.
func (s *Set[T]) Add(v T) {
	s.tree.Set(v)
}

// Delete removes the element equal to v, reporting whether it was present.
func (s *Set[T]) Delete(v T) bool {
	_, ok := s.tree.Delete(v)
	return ok
}

// Has reports whether an element equal to v is present.
func (s *Set[T]) Has(v T) bool {
	_, ok := s.tree.Get(v)
	return ok
}

// Get returns the stored element equal to v.
func (s *Set[T]) Get(v T) (T, bool) {
	return s.tree.Get(v)
}

// Len returns the number of elements.
func (s *Set[T]) Len() int {
	return s.tree.Len()
}

// Clone returns a structural copy; mutations on either copy do not affect
// the other. The copy shares nodes copy-on-write, so cloning is cheap.
func (s *Set[T]) Clone() *Set[T] {
	return &Set[T]{compare: s.compare, tree: s.tree.Copy()}
}

// Values iterates the whole set in ascending order.
func (s *Set[T]) Values() *Iter[T] {
	it := s.tree.Iter()
	valid := it.First()
	return &Iter[T]{iter: it, valid: valid}
}

// ValuesReversed iterates the whole set in descending order.
func (s *Set[T]) ValuesReversed() *Iter[T] {
	it := s.tree.Iter()
	valid := it.Last()
	return &Iter[T]{iter: it, reverse: true, valid: valid}
}

// ValuesFrom iterates ascending starting at the first element >= key,
// excluding an element equal to key unless inclusive.
func (s *Set[T]) ValuesFrom(key T, inclusive bool) *Iter[T] {
	it := s.tree.Iter()
	valid := it.Seek(key)
	if valid && !inclusive && s.compare(it.Item(), key) == 0 {
		valid = it.Next()
	}
	return &Iter[T]{iter: it, valid: valid}
}

// ValuesFromReversed iterates descending starting at the last element <= key,
// excluding an element equal to key unless inclusive.
func (s *Set[T]) ValuesFromReversed(key T, inclusive bool) *Iter[T] {
	it := s.tree.Iter()
	valid := it.Seek(key)
	switch {
	case !valid:
		// Everything is below key; start from the top.
		valid = it.Last()
	case s.compare(it.Item(), key) > 0 || !inclusive && s.compare(it.Item(), key) == 0:
		valid = it.Prev()
	}
	return &Iter[T]{iter: it, reverse: true, valid: valid}
}

// Iter is a lazy positional iterator. It is valid against the snapshot it
// was started on; mutating the set during iteration is undefined.
type Iter[T any] struct {
	iter    btree.IterG[T]
	reverse bool
	valid   bool
	done    bool
}

// Next yields the next element, advancing the iterator.
func (it *Iter[T]) Next() (T, bool) {
	if !it.valid {
		var zero T
		if !it.done {
			it.done = true
			it.iter.Release()
		}
		return zero, false
	}
	item := it.iter.Item()
	if it.reverse {
		it.valid = it.iter.Prev()
	} else {
		it.valid = it.iter.Next()
	}
	return item, true
}
