// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package zdata

import "strings"

// SortPart is one component of an ordering.
type SortPart struct {
	Column string
	Desc   bool
}

// Ordering is a non-empty ordered list of sort parts. Orderings used by
// source connections are always completed with the primary key so that the
// composite is a total order over rows.
type Ordering []SortPart

// Asc and Desc build single-part orderings; chain with Then.
func Asc(column string) Ordering  { return Ordering{{Column: column}} }
func Desc(column string) Ordering { return Ordering{{Column: column, Desc: true}} }

// Then appends a part, returning a new ordering.
func (o Ordering) Then(part SortPart) Ordering {
	out := make(Ordering, 0, len(o)+1)
	out = append(out, o...)
	return append(out, part)
}

// Columns lists the referenced columns in order.
func (o Ordering) Columns() []string {
	cols := make([]string, 0, len(o))
	for _, p := range o {
		cols = append(cols, p.Column)
	}
	return cols
}

// References reports whether the ordering sorts on the given column.
func (o Ordering) References(column string) bool {
	for _, p := range o {
		if p.Column == column {
			return true
		}
	}
	return false
}

// Complete extends the ordering with ascending primary key parts for any key
// column not already present, making the ordering total for the table.
func (o Ordering) Complete(primaryKey []string) Ordering {
	out := make(Ordering, 0, len(o)+len(primaryKey))
	out = append(out, o...)
	for _, pk := range primaryKey {
		if !out.References(pk) {
			out = append(out, SortPart{Column: pk})
		}
	}
	return out
}

// Key is a canonical identifier for the ordering, used to share secondary
// indices between connections that requested the same sort.
func (o Ordering) Key() string {
	var b strings.Builder
	for i, p := range o {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Column)
		if p.Desc {
			b.WriteByte('-')
		} else {
			b.WriteByte('+')
		}
	}
	return b.String()
}

// RowCompare is a total order over rows.
type RowCompare func(a, b Row) int

// Comparator compiles the ordering into a row comparator. Comparators are
// derived once per ordering at build time and shared afterwards.
func (o Ordering) Comparator() RowCompare {
	parts := make(Ordering, len(o))
	copy(parts, o)
	return func(a, b Row) int {
		for _, p := range parts {
			c := Compare(a[p.Column], b[p.Column])
			if c == 0 {
				continue
			}
			if p.Desc {
				return -c
			}
			return c
		}
		return 0
	}
}
