// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite is a conformance suite run against every
// kvstore.Storage implementation.
package testsuite

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/zql/pkg/kvstore"
)

// RunStorage runs the full conformance suite against the given store.
func RunStorage(t *testing.T, store kvstore.Storage) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	t.Run("CRUD", func(t *testing.T) { testCRUD(t, ctx, store) })
	t.Run("Scan", func(t *testing.T) { testScan(t, ctx, store) })
	t.Run("ScanBounds", func(t *testing.T) { testScanBounds(t, ctx, store) })
}

func newItem(key, value string) kvstore.Item {
	return kvstore.Item{Key: kvstore.Key(key), Value: kvstore.Value(value)}
}

func putAll(ctx context.Context, store kvstore.Storage, items []kvstore.Item) error {
	for _, item := range items {
		if err := store.Set(ctx, item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}

func cleanupItems(t *testing.T, ctx context.Context, store kvstore.Storage, items []kvstore.Item) {
	for _, item := range items {
		require.NoError(t, store.Delete(ctx, item.Key))
	}
	n, err := kvstore.CountItems(ctx, store)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testCRUD(t *testing.T, ctx *testcontext.Context, store kvstore.Storage) {
	items := []kvstore.Item{
		newItem("\x00", "\x00"),
		newItem("a/b", "\x01\x00"),
		newItem("a\\b", "\xFF"),
		newItem("full/path/1", "\x00\xFF\xFF\x00"),
		newItem("full/path/2", "\x00\xFF\xFF\x01"),
		newItem("öö", "üü"),
	}
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	defer cleanupItems(t, ctx, store, items)

	require.NoError(t, putAll(ctx, store, items))

	for _, item := range items {
		value, err := store.Get(ctx, item.Key)
		require.NoError(t, err, "get %q", item.Key)
		require.Equal(t, item.Value, value)
	}

	// overwrite
	require.NoError(t, store.Set(ctx, items[0].Key, kvstore.Value("replaced")))
	value, err := store.Get(ctx, items[0].Key)
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("replaced"), value)

	// missing key
	_, err = store.Get(ctx, kvstore.Key("missing"))
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	// idempotent delete
	require.NoError(t, store.Delete(ctx, kvstore.Key("missing")))
}

func testScan(t *testing.T, ctx *testcontext.Context, store kvstore.Storage) {
	items := []kvstore.Item{
		newItem("a", "1"),
		newItem("b/1", "2"),
		newItem("b/2", "3"),
		newItem("b/3", "4"),
		newItem("c", "5"),
		newItem("c/1", "6"),
		newItem("g", "7"),
	}
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	defer cleanupItems(t, ctx, store, items)
	require.NoError(t, putAll(ctx, store, items))

	scan := func(opts kvstore.ScanOptions) []string {
		var keys []string
		err := store.Scan(ctx, opts, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
			keys = append(keys, string(key))
			return nil
		})
		require.NoError(t, err)
		return keys
	}

	require.Equal(t, []string{"a", "b/1", "b/2", "b/3", "c", "c/1", "g"}, scan(kvstore.ScanOptions{}))
	require.Equal(t, []string{"b/1", "b/2", "b/3"}, scan(kvstore.ScanOptions{Prefix: kvstore.Key("b/")}))
	require.Equal(t, []string{"b/2", "b/3"}, scan(kvstore.ScanOptions{Prefix: kvstore.Key("b/"), Start: kvstore.Key("b/2")}))
	require.Equal(t, []string{"a", "b/1"}, scan(kvstore.ScanOptions{Limit: 2}))
	require.Empty(t, scan(kvstore.ScanOptions{Prefix: kvstore.Key("zz")}))
}

func testScanBounds(t *testing.T, ctx *testcontext.Context, store kvstore.Storage) {
	items := []kvstore.Item{
		newItem("k1", "1"),
		newItem("k2", "2"),
		newItem("k3", "3"),
	}
	defer cleanupItems(t, ctx, store, items)
	require.NoError(t, putAll(ctx, store, items))

	// error from fn aborts the scan and propagates
	boom := kvstore.Error.New("boom")
	var seen int
	err := store.Scan(ctx, kvstore.ScanOptions{}, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		seen++
		if seen == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, seen)

	// start beyond everything
	var keys []string
	err = store.Scan(ctx, kvstore.ScanOptions{Start: kvstore.Key("k9")}, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, keys)
}
