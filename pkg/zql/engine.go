// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package zql is the query facade: an engine owning the sources created at
// start, and a fluent query builder producing materialized, listener
// observable views.
package zql

import (
	"io"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/builder"
	"storj.io/zql/pkg/kvstore"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("zql")

// Config tunes an engine.
type Config struct {
	// NewStorage allocates scratch storage for stateful operators.
	// Defaults to fresh in-memory stores; point it at a boltstore to spill
	// operator state to disk.
	NewStorage func(name string) (kvstore.Storage, error)
}

// Engine owns the sources for one process and compiles queries against
// them. Sources are registered at engine start and live until Close.
type Engine struct {
	log     *zap.Logger
	sources map[string]builder.Source
	builder *builder.Builder
}

// NewEngine creates an engine.
func NewEngine(log *zap.Logger, config Config) *Engine {
	e := &Engine{
		log:     log,
		sources: map[string]builder.Source{},
	}
	e.builder = builder.New(log.Named("builder"), e, builder.Options{
		NewStorage: config.NewStorage,
	})
	return e
}

// AddSource registers a source under its schema name.
func (e *Engine) AddSource(src builder.Source) error {
	name := src.Schema().Name
	if _, ok := e.sources[name]; ok {
		return Error.New("table %q already registered", name)
	}
	e.sources[name] = src
	return nil
}

// Source implements builder.Catalog.
func (e *Engine) Source(table string) (builder.Source, bool) {
	src, ok := e.sources[table]
	return src, ok
}

// Close closes every source that needs closing.
func (e *Engine) Close() error {
	var group errs.Group
	for _, src := range e.sources {
		if closer, ok := src.(io.Closer); ok {
			group.Add(closer.Close())
		}
	}
	e.sources = map[string]builder.Source{}
	return Error.Wrap(group.Err())
}

// From starts a query on a table.
func (e *Engine) From(table string) *Query {
	return &Query{engine: e, q: ast.Query{Table: table}}
}
