// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package source implements the authoritative in-process row container for
// one table: a primary index plus one refcounted secondary index per
// distinct ordering requested by live connections. Changes pushed into a
// source are applied to every index atomically and then fanned out to every
// connection as operator-level changes.
package source

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/zql/pkg/ast"
	"storj.io/zql/pkg/btreeset"
	"storj.io/zql/pkg/dataflow"
	"storj.io/zql/pkg/zdata"
)

var (
	// Error is the class of errors returned by this package.
	Error = errs.Class("source")

	mon = monkit.Package()
)

// ChangeType enumerates source-level change kinds.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
	ChangeEdit   ChangeType = "edit"
)

// Change is a single row-level mutation at the source boundary.
type Change struct {
	Type   ChangeType
	Row    zdata.Row
	OldRow zdata.Row // edit only
}

type index struct {
	ordering zdata.Ordering
	compare  zdata.RowCompare
	rows     *btreeset.Set[zdata.Row]
	refs     int
}

// Source owns the canonical set of rows for one table.
type Source struct {
	log         *zap.Logger
	schema      *zdata.TableSchema
	primary     *index
	secondaries map[string]*index
	connections []*Connection
	pushing     bool
}

// New creates an empty source for the table.
func New(log *zap.Logger, schema *zdata.TableSchema) (*Source, error) {
	if err := schema.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}
	ordering := zdata.Ordering{}.Complete(schema.PrimaryKey)
	s := &Source{
		log:    log,
		schema: schema,
		primary: &index{
			ordering: ordering,
			compare:  ordering.Comparator(),
			rows:     btreeset.New(ordering.Comparator()),
		},
		secondaries: map[string]*index{},
	}
	log.Debug("source created", zap.String("table", schema.Name))
	return s, nil
}

// Schema returns the table schema.
func (s *Source) Schema() *zdata.TableSchema { return s.schema }

// Len returns the number of rows.
func (s *Source) Len() int { return s.primary.rows.Len() }

// Load bulk-populates an empty source from rows sorted by primary key.
// Only valid before any connection exists.
func (s *Source) Load(rows []zdata.Row) error {
	if len(s.connections) > 0 {
		return Error.New("load after connect")
	}
	if s.primary.rows.Len() > 0 {
		return Error.New("load into non-empty source")
	}
	for _, row := range rows {
		if err := s.schema.ValidateRow(row); err != nil {
			return Error.Wrap(err)
		}
	}
	set, err := btreeset.NewFromSorted(s.primary.compare, rows)
	if err != nil {
		return Error.Wrap(err)
	}
	s.primary.rows = set
	return nil
}

// Push validates and applies a change, then fans it out synchronously to
// every connection. It runs to completion, through all downstream operators
// and view listeners, before returning.
func (s *Source) Push(ctx context.Context, change Change) (err error) {
	defer mon.Task()(&ctx)(&err)

	gen, err := s.GenPush(ctx, change)
	if err != nil {
		return err
	}
	for gen.Step() {
	}
	return nil
}

// GenPush validates and applies a change to every index, returning a
// resumable stepper that fans the change out to one connected input per
// Step and commits on completion.
func (s *Source) GenPush(ctx context.Context, change Change) (_ *Stepper, err error) {
	defer mon.Task()(&ctx)(&err)

	if s.pushing {
		panic(Error.New("table %q: push while a push is in flight", s.schema.Name))
	}

	canonical, err := s.validate(change)
	if err != nil {
		return nil, err
	}
	s.apply(canonical)

	s.pushing = true
	queue := make([]*Connection, len(s.connections))
	copy(queue, s.connections)
	return &Stepper{source: s, ctx: ctx, change: canonical, queue: queue}, nil
}

// validate checks the change against the schema and the current rows,
// returning the change with canonical stored rows filled in.
func (s *Source) validate(change Change) (Change, error) {
	switch change.Type {
	case ChangeAdd:
		if err := s.schema.ValidateRow(change.Row); err != nil {
			return Change{}, Error.Wrap(err)
		}
		if s.primary.rows.Has(change.Row) {
			panic(Error.New("table %q: add of existing row %v", s.schema.Name, s.schema.RowKey(change.Row)))
		}
		return change, nil

	case ChangeRemove:
		stored, ok := s.primary.rows.Get(change.Row)
		if !ok {
			panic(Error.New("table %q: remove of missing row %v", s.schema.Name, s.schema.RowKey(change.Row)))
		}
		return Change{Type: ChangeRemove, Row: stored}, nil

	case ChangeEdit:
		if change.OldRow == nil {
			return Change{}, Error.New("table %q: edit without old row", s.schema.Name)
		}
		if err := s.schema.ValidateRow(change.Row); err != nil {
			return Change{}, Error.Wrap(err)
		}
		if !s.schema.SameKey(change.Row, change.OldRow) {
			return Change{}, Error.New("table %q: edit changes primary key", s.schema.Name)
		}
		stored, ok := s.primary.rows.Get(change.OldRow)
		if !ok {
			panic(Error.New("table %q: edit of missing row %v", s.schema.Name, s.schema.RowKey(change.OldRow)))
		}
		return Change{Type: ChangeEdit, Row: change.Row, OldRow: stored}, nil
	}
	return Change{}, Error.New("table %q: unknown change type %q", s.schema.Name, change.Type)
}

// apply mutates every index. Rows keep their sort position in an index
// whose ordering references no changed column, so a plain replace suffices
// there; otherwise the old row is removed first.
func (s *Source) apply(change Change) {
	forEach := func(fn func(*index)) {
		fn(s.primary)
		for _, idx := range s.secondaries {
			fn(idx)
		}
	}
	switch change.Type {
	case ChangeAdd:
		forEach(func(idx *index) { idx.rows.Add(change.Row) })
	case ChangeRemove:
		forEach(func(idx *index) { idx.rows.Delete(change.Row) })
	case ChangeEdit:
		changed := zdata.ChangedColumns(change.OldRow, change.Row)
		forEach(func(idx *index) {
			if orderingTouches(idx.ordering, changed) {
				idx.rows.Delete(change.OldRow)
			}
			idx.rows.Add(change.Row)
		})
	}
}

func orderingTouches(ordering zdata.Ordering, columns []string) bool {
	for _, col := range columns {
		if ordering.References(col) {
			return true
		}
	}
	return false
}

// Stepper fans one applied change out to the connected inputs, one per
// Step. Step returns false once every connection has seen the change and
// the push is committed.
type Stepper struct {
	source *Source
	ctx    context.Context
	change Change
	queue  []*Connection
	next   int
	done   bool
}

// Step pushes the change to the next connection. It returns whether more
// steps remain.
func (st *Stepper) Step() bool {
	if st.done {
		return false
	}
	if st.next >= len(st.queue) {
		st.done = true
		st.source.pushing = false
		return false
	}
	conn := st.queue[st.next]
	st.next++
	if !conn.closed {
		conn.push(st.ctx, st.change)
	}
	return true
}

// Connect returns an input yielding this table's rows under the given
// ordering (completed with the primary key), applying the given filter
// tree. Connections with equal orderings share one refcounted secondary
// index.
func (s *Source) Connect(ordering zdata.Ordering, filters ast.Condition) (*Connection, error) {
	completed := ordering.Complete(s.schema.PrimaryKey)
	for _, col := range completed.Columns() {
		if _, ok := s.schema.Columns[col]; !ok {
			return nil, Error.New("table %q: unknown order column %q", s.schema.Name, col)
		}
	}

	idx, err := s.acquireIndex(completed)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		source: s,
		idx:    idx,
		schema: dataflow.NewSchema(s.schema, completed),
		split:  map[string]bool{},
	}
	for _, col := range completed.Columns() {
		conn.split[col] = true
	}
	if filters != nil {
		predicate, err := dataflow.CompileCondition(filters)
		if err != nil {
			s.releaseIndex(idx)
			return nil, Error.Wrap(err)
		}
		conn.filters = filters
		conn.predicate = predicate
		conn.fullyApplied = true
	}
	s.connections = append(s.connections, conn)
	return conn, nil
}

func (s *Source) acquireIndex(ordering zdata.Ordering) (*index, error) {
	key := ordering.Key()
	if key == s.primary.ordering.Key() {
		return s.primary, nil
	}
	if idx, ok := s.secondaries[key]; ok {
		idx.refs++
		return idx, nil
	}

	compare := ordering.Comparator()
	rows := make([]zdata.Row, 0, s.primary.rows.Len())
	it := s.primary.rows.Clone().Values()
	for row, ok := it.Next(); ok; row, ok = it.Next() {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return compare(rows[i], rows[j]) < 0 })
	set, err := btreeset.NewFromSorted(compare, rows)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	idx := &index{ordering: ordering, compare: compare, rows: set, refs: 1}
	s.secondaries[key] = idx
	s.log.Debug("secondary index built",
		zap.String("table", s.schema.Name), zap.String("ordering", key), zap.Int("rows", set.Len()))
	return idx, nil
}

func (s *Source) releaseIndex(idx *index) {
	if idx == s.primary {
		return
	}
	idx.refs--
	if idx.refs <= 0 {
		delete(s.secondaries, idx.ordering.Key())
		s.log.Debug("secondary index dropped",
			zap.String("table", s.schema.Name), zap.String("ordering", idx.ordering.Key()))
	}
}

func (s *Source) disconnect(conn *Connection) {
	for i, c := range s.connections {
		if c == conn {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	s.releaseIndex(conn.idx)
}

// SecondaryIndexCount reports the number of live secondary indices.
func (s *Source) SecondaryIndexCount() int { return len(s.secondaries) }

// ConnectionCount reports the number of live connections.
func (s *Source) ConnectionCount() int { return len(s.connections) }
