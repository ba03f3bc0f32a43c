// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltstore implements kvstore.Storage on top of a bolt database.
// Each operator gets its own bucket, so one database file can spill the
// state of a whole operator graph.
package boltstore

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/zql/pkg/kvstore"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("boltstore")

// DB wraps one bolt database file holding any number of named buckets.
type DB struct {
	log *zap.Logger
	db  *bolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(log *zap.Logger, path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	log.Debug("opened bolt storage", zap.String("path", path))
	return &DB{log: log, db: db}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Bucket returns a Storage scoped to the named bucket, creating it if
// needed.
func (db *DB) Bucket(name string) (*Store, error) {
	err := db.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{db: db.db, bucket: []byte(name)}, nil
}

// Store is a bucket-scoped kvstore.Storage.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Get implements kvstore.Storage.
func (store *Store) Get(ctx context.Context, key kvstore.Key) (value kvstore.Value, err error) {
	err = store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(store.bucket).Get(key)
		if data == nil {
			return kvstore.ErrKeyNotFound.New("%q", key)
		}
		value = append(kvstore.Value(nil), data...)
		return nil
	})
	return value, err
}

// Set implements kvstore.Storage.
func (store *Store) Set(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	return Error.Wrap(store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(store.bucket).Put(key, value)
	}))
}

// Delete implements kvstore.Storage.
func (store *Store) Delete(ctx context.Context, key kvstore.Key) error {
	return Error.Wrap(store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(store.bucket).Delete(key)
	}))
}

// Scan implements kvstore.Storage.
func (store *Store) Scan(ctx context.Context, opts kvstore.ScanOptions, fn func(ctx context.Context, key kvstore.Key, value kvstore.Value) error) error {
	start := opts.Start
	if start == nil || bytes.Compare(start, opts.Prefix) < 0 {
		start = opts.Prefix
	}
	return store.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(store.bucket).Cursor()
		count := 0
		for key, value := cursor.Seek(start); key != nil; key, value = cursor.Next() {
			if !bytes.HasPrefix(key, opts.Prefix) {
				break
			}
			if err := fn(ctx, kvstore.Key(key).Clone(), append(kvstore.Value(nil), value...)); err != nil {
				return err
			}
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				break
			}
		}
		return nil
	})
}
