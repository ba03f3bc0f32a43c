// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package dataflow

import "storj.io/zql/pkg/zdata"

// RelatedSchema describes one relationship of an operator's output. Hidden
// relationships exist only to drive an Exists operator and are not
// materialized into views.
type RelatedSchema struct {
	Schema *Schema
	Hidden bool
}

// Schema describes the rows an operator yields: the table they come from,
// the total ordering they are yielded in, the relationships attached to
// them, and the compiled row comparator for that ordering.
type Schema struct {
	Table         *zdata.TableSchema
	Ordering      zdata.Ordering
	Relationships map[string]RelatedSchema
	CompareRows   zdata.RowCompare
}

// NewSchema builds a schema for a table under a completed (total) ordering.
func NewSchema(table *zdata.TableSchema, ordering zdata.Ordering) *Schema {
	return &Schema{
		Table:       table,
		Ordering:    ordering,
		CompareRows: ordering.Comparator(),
	}
}

// WithRelationship returns a copy of the schema with one more relationship.
func (s *Schema) WithRelationship(name string, child *Schema, hidden bool) *Schema {
	rels := make(map[string]RelatedSchema, len(s.Relationships)+1)
	for k, v := range s.Relationships {
		rels[k] = v
	}
	rels[name] = RelatedSchema{Schema: child, Hidden: hidden}
	return &Schema{
		Table:         s.Table,
		Ordering:      s.Ordering,
		Relationships: rels,
		CompareRows:   s.CompareRows,
	}
}
