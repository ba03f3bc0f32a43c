// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqlitesource implements a source whose canonical rows live in an
// on-disk SQLite table. Opening hydrates the in-memory indices from the
// table; every push is written through to SQLite before it is applied and
// fanned out, so the table always reflects the last completed push.
package sqlitesource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/source"
	"storj.io/zql/pkg/zdata"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("sqlitesource")

// Config configures an on-disk source.
type Config struct {
	// Path of the database file. ":memory:" works for tests.
	Path string
	// Table overrides the SQL table name; defaults to the schema name.
	Table string
}

// Source is a write-through, SQLite-backed source. It exposes the same
// Connect surface as an in-memory source.
type Source struct {
	log    *zap.Logger
	db     *sql.DB
	table  string
	schema *zdata.TableSchema
	inner  *source.Source
	closed bool
}

// Open opens the database, creates the table if needed, and hydrates the
// in-memory indices from it.
func Open(log *zap.Logger, schema *zdata.TableSchema, cfg Config) (*Source, error) {
	inner, err := source.New(log, schema)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	table := cfg.Table
	if table == "" {
		table = schema.Name
	}
	s := &Source{log: log, db: db, table: table, schema: schema, inner: inner}

	if err := s.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.hydrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite source opened",
		zap.String("table", table), zap.String("path", cfg.Path), zap.Int("rows", inner.Len()))
	return s, nil
}

// Schema returns the table schema.
func (s *Source) Schema() *zdata.TableSchema { return s.inner.Schema() }

// Len returns the number of rows.
func (s *Source) Len() int { return s.inner.Len() }

// Connect delegates to the in-memory indices.
func (s *Source) Connect(ordering zdata.Ordering, filters ast.Condition) (*source.Connection, error) {
	return s.inner.Connect(ordering, filters)
}

// Push writes the change through to SQLite and then applies and fans it out
// like an in-memory source. Validation runs before the write-through so a
// rejected change mutates nothing anywhere.
func (s *Source) Push(ctx context.Context, change Change) error {
	switch change.Type {
	case source.ChangeAdd:
		if err := s.schema.ValidateRow(change.Row); err != nil {
			return Error.Wrap(err)
		}
	case source.ChangeEdit:
		if err := s.schema.ValidateRow(change.Row); err != nil {
			return Error.Wrap(err)
		}
		if change.OldRow == nil || !s.schema.SameKey(change.Row, change.OldRow) {
			return Error.New("table %q: edit changes primary key", s.table)
		}
	}
	if err := s.writeThrough(ctx, change); err != nil {
		return err
	}
	return s.inner.Push(ctx, change)
}

// Change aliases the in-memory source change type.
type Change = source.Change

// Close closes the database. Idempotent; live connections onto the
// in-memory indices stay valid but the table stops persisting.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return Error.Wrap(s.db.Close())
}

func (s *Source) columns() []string {
	cols := make([]string, 0, len(s.schema.Columns))
	for name := range s.schema.Columns {
		cols = append(cols, name)
	}
	sort.Strings(cols) // deterministic statement text
	return cols
}

func (s *Source) createTable() error {
	var defs []string
	for _, name := range s.columns() {
		col := s.schema.Columns[name]
		var sqlType string
		switch col.Type {
		case zdata.TypeBool:
			sqlType = "INTEGER"
		case zdata.TypeNumber:
			sqlType = "REAL"
		default:
			sqlType = "TEXT"
		}
		null := " NOT NULL"
		if col.Optional {
			null = ""
		}
		defs = append(defs, fmt.Sprintf("%q %s%s", name, sqlType, null))
	}
	var pk []string
	for _, col := range s.schema.PrimaryKey {
		pk = append(pk, fmt.Sprintf("%q", col))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s, PRIMARY KEY (%s))",
		s.table, strings.Join(defs, ", "), strings.Join(pk, ", "))
	_, err := s.db.Exec(stmt)
	return Error.Wrap(err)
}

func (s *Source) hydrate() error {
	cols := s.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	var order []string
	for _, col := range s.schema.PrimaryKey {
		order = append(order, fmt.Sprintf("%q", col))
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM %q ORDER BY %s",
		strings.Join(quoted, ", "), s.table, strings.Join(order, ", ")))
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var loaded []zdata.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Error.Wrap(err)
		}
		row := make(zdata.Row, len(cols))
		for i, name := range cols {
			v, err := s.decode(name, raw[i])
			if err != nil {
				return err
			}
			row[name] = v
		}
		loaded = append(loaded, row)
	}
	if err := rows.Err(); err != nil {
		return Error.Wrap(err)
	}
	return s.inner.Load(loaded)
}

func (s *Source) decode(column string, raw any) (zdata.Value, error) {
	if raw == nil {
		return nil, nil
	}
	switch s.schema.Columns[column].Type {
	case zdata.TypeBool:
		n, ok := raw.(int64)
		if !ok {
			return nil, Error.New("column %q: expected integer, got %T", column, raw)
		}
		return n != 0, nil
	case zdata.TypeNumber:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
		return nil, Error.New("column %q: expected number, got %T", column, raw)
	case zdata.TypeString:
		return decodeText(column, raw)
	default:
		text, err := decodeText(column, raw)
		if err != nil {
			return nil, err
		}
		var tree any
		if err := json.Unmarshal([]byte(text.(string)), &tree); err != nil {
			return nil, Error.Wrap(err)
		}
		return zdata.Normalize(tree)
	}
}

func decodeText(column string, raw any) (zdata.Value, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	}
	return nil, Error.New("column %q: expected text, got %T", column, raw)
}

func (s *Source) encode(column string, v zdata.Value) any {
	if v == nil {
		return nil
	}
	switch s.schema.Columns[column].Type {
	case zdata.TypeBool:
		if v.(bool) {
			return int64(1)
		}
		return int64(0)
	case zdata.TypeJSON:
		return zdata.CanonicalJSON(v)
	default:
		return v
	}
}

func (s *Source) whereKey() (string, func(row zdata.Row) []any) {
	var conds []string
	for _, col := range s.schema.PrimaryKey {
		conds = append(conds, fmt.Sprintf("%q = ?", col))
	}
	pk := s.schema.PrimaryKey
	return strings.Join(conds, " AND "), func(row zdata.Row) []any {
		args := make([]any, 0, len(pk))
		for _, col := range pk {
			args = append(args, s.encode(col, row[col]))
		}
		return args
	}
}

func (s *Source) writeThrough(ctx context.Context, change Change) error {
	if s.closed {
		return Error.New("table %q: push after close", s.table)
	}
	cols := s.columns()
	where, keyArgs := s.whereKey()

	switch change.Type {
	case source.ChangeAdd:
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			quoted[i] = fmt.Sprintf("%q", c)
			marks[i] = "?"
			args[i] = s.encode(c, change.Row[c])
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
			s.table, strings.Join(quoted, ", "), strings.Join(marks, ", ")), args...)
		return Error.Wrap(err)

	case source.ChangeRemove:
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %q WHERE %s", s.table, where), keyArgs(change.Row)...)
		return Error.Wrap(err)

	case source.ChangeEdit:
		var sets []string
		var args []any
		for _, c := range cols {
			sets = append(sets, fmt.Sprintf("%q = ?", c))
			args = append(args, s.encode(c, change.Row[c]))
		}
		args = append(args, keyArgs(change.OldRow)...)
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %q SET %s WHERE %s", s.table, strings.Join(sets, ", "), where), args...)
		return Error.Wrap(err)
	}
	return Error.New("unknown change type %q", change.Type)
}
