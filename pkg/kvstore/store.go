// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package kvstore defines the key/value storage contract used for operator
// scratch state. Operators must never assume the backing store is in-memory;
// the same contract is implemented by memstore and boltstore.
package kvstore

import (
	"bytes"
	"context"

	"github.com/zeebo/errs"
)

var (
	// Error is the class of errors returned by this package.
	Error = errs.Class("kvstore")

	// ErrKeyNotFound is returned by Get when no value is stored for a key.
	ErrKeyNotFound = errs.Class("key not found")
)

// Key is a byte-ordered storage key. Composite keys are built with EncodeKey
// so that byte order agrees with value order.
type Key []byte

// Value is an opaque stored value.
type Value []byte

// Item is a stored key/value pair.
type Item struct {
	Key   Key
	Value Value
}

// ScanOptions bound a Scan: only keys with the given Prefix, starting at
// Start (inclusive, may be nil), at most Limit items (0 means unbounded).
type ScanOptions struct {
	Prefix Key
	Start  Key
	Limit  int
}

// Storage is the per-operator durable state surface. All methods take a
// context; implementations may touch disk. Scan visits items in ascending
// key order and stops early when fn returns an error, which is propagated.
type Storage interface {
	Get(ctx context.Context, key Key) (Value, error)
	Set(ctx context.Context, key Key, value Value) error
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	Scan(ctx context.Context, opts ScanOptions, fn func(ctx context.Context, key Key, value Value) error) error
}

// Clone returns a copy of the key, safe to retain across mutations.
func (k Key) Clone() Key { return append(Key(nil), k...) }

// HasPrefix reports whether the key starts with prefix.
func (k Key) HasPrefix(prefix Key) bool { return bytes.HasPrefix(k, prefix) }

// CountItems is a test helper that scans the entire store.
func CountItems(ctx context.Context, store Storage) (n int, err error) {
	err = store.Scan(ctx, ScanOptions{}, func(context.Context, Key, Value) error {
		n++
		return nil
	})
	return n, err
}
