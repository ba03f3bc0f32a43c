// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memstore implements kvstore.Storage with an in-memory sorted map.
// It is the default backing for operator scratch state.
package memstore

import (
	"bytes"
	"context"

	"storj.io/zql/pkg/btreeset"
	"storj.io/zql/pkg/kvstore"
)

// Store is an in-memory kvstore.Storage.
type Store struct {
	items *btreeset.Set[kvstore.Item]
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items: btreeset.New(func(a, b kvstore.Item) int {
			return bytes.Compare(a.Key, b.Key)
		}),
	}
}

// Get implements kvstore.Storage.
func (store *Store) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	item, ok := store.items.Get(kvstore.Item{Key: key})
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return item.Value, nil
}

// Set implements kvstore.Storage.
func (store *Store) Set(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	store.items.Add(kvstore.Item{Key: key.Clone(), Value: append(kvstore.Value(nil), value...)})
	return nil
}

// Delete implements kvstore.Storage.
func (store *Store) Delete(ctx context.Context, key kvstore.Key) error {
	store.items.Delete(kvstore.Item{Key: key})
	return nil
}

// Scan implements kvstore.Storage.
func (store *Store) Scan(ctx context.Context, opts kvstore.ScanOptions, fn func(ctx context.Context, key kvstore.Key, value kvstore.Value) error) error {
	start := opts.Start
	if start == nil || bytes.Compare(start, opts.Prefix) < 0 {
		start = opts.Prefix
	}

	snapshot := store.items.Clone()
	it := snapshot.ValuesFrom(kvstore.Item{Key: start}, true)

	count := 0
	for item, ok := it.Next(); ok; item, ok = it.Next() {
		if !item.Key.HasPrefix(opts.Prefix) {
			break
		}
		if err := fn(ctx, item.Key, item.Value); err != nil {
			return err
		}
		count++
		if opts.Limit > 0 && count >= opts.Limit {
			break
		}
	}
	return nil
}
