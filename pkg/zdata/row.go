// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package zdata

import "sort"

// Row is an immutable mapping from column name to Value. Rows are treated as
// frozen once they enter a source; engine code never mutates a Row in place
// and always allocates a fresh map when deriving one.
type Row map[string]Value

// Get returns the value of a column, normalizing absence to null.
func (r Row) Get(column string) Value {
	return r[column]
}

// NormalizeRow normalizes every value of a raw row.
func NormalizeRow(raw map[string]any) (Row, error) {
	out := make(Row, len(raw))
	for col, v := range raw {
		nv, err := Normalize(v)
		if err != nil {
			return nil, Error.New("column %q: %v", col, err)
		}
		out[col] = nv
	}
	return out, nil
}

// Clone returns a shallow copy. Values are immutable, so sharing them is safe.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnType enumerates the storable column types.
type ColumnType string

const (
	TypeBool   ColumnType = "boolean"
	TypeNumber ColumnType = "number"
	TypeString ColumnType = "string"
	TypeJSON   ColumnType = "json"
)

func (t ColumnType) kind() Kind {
	switch t {
	case TypeBool:
		return KindBool
	case TypeNumber:
		return KindNumber
	case TypeString:
		return KindString
	default:
		return KindJSON
	}
}

// Column describes one column of a table.
type Column struct {
	Type     ColumnType
	Optional bool
}

// Relationship declares a parent-to-children link from one table to another:
// rows of Table are children of a parent row when
// parent[ParentKey] = child[ChildKey].
type Relationship struct {
	ParentKey string
	Table     string
	ChildKey  string
}

// TableSchema describes one table: its columns, its primary key, and the
// relationships queries may traverse from it. Primary key columns are
// non-optional.
type TableSchema struct {
	Name          string
	Columns       map[string]Column
	PrimaryKey    []string
	Relationships map[string]Relationship
}

// Validate checks the schema definition itself.
func (s *TableSchema) Validate() error {
	if s.Name == "" {
		return Error.New("table schema has no name")
	}
	if len(s.PrimaryKey) == 0 {
		return Error.New("table %q has no primary key", s.Name)
	}
	for _, pk := range s.PrimaryKey {
		col, ok := s.Columns[pk]
		if !ok {
			return Error.New("table %q: primary key column %q not declared", s.Name, pk)
		}
		if col.Optional {
			return Error.New("table %q: primary key column %q must not be optional", s.Name, pk)
		}
	}
	return nil
}

// ValidateRow checks a row against the schema: every declared column has a
// value of the right kind (or null when optional), primary key columns are
// non-null, and no undeclared columns are present.
func (s *TableSchema) ValidateRow(row Row) error {
	for name, col := range s.Columns {
		v, ok := row[name]
		if !ok || v == nil {
			if col.Optional {
				continue
			}
			return Error.New("table %q: column %q is required", s.Name, name)
		}
		if got := KindOf(v); got != col.Type.kind() {
			return Error.New("table %q: column %q expects %v, got %v", s.Name, name, col.Type, got)
		}
	}
	for name := range row {
		if _, ok := s.Columns[name]; !ok {
			return Error.New("table %q: unknown column %q", s.Name, name)
		}
	}
	return nil
}

// RowKey extracts the primary key values of a row in key order.
func (s *TableSchema) RowKey(row Row) []Value {
	key := make([]Value, 0, len(s.PrimaryKey))
	for _, col := range s.PrimaryKey {
		key = append(key, row[col])
	}
	return key
}

// SameKey reports whether two rows agree on every primary key column.
func (s *TableSchema) SameKey(a, b Row) bool {
	for _, col := range s.PrimaryKey {
		if !Equal(a[col], b[col]) {
			return false
		}
	}
	return true
}

// ChangedColumns returns the sorted set of columns whose values differ
// between two rows of this table.
func ChangedColumns(a, b Row) []string {
	set := map[string]bool{}
	for col, av := range a {
		if !Equal(av, b[col]) {
			set[col] = true
		}
	}
	for col, bv := range b {
		if !Equal(bv, a[col]) {
			set[col] = true
		}
	}
	out := make([]string, 0, len(set))
	for col := range set {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}
