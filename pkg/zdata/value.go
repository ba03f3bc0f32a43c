// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package zdata defines the value and row model shared by every layer of the
// query engine: dynamically typed values with a total cross-kind order, rows,
// table schemas and sort orderings with compiled comparators.
package zdata

import (
	"encoding/json"
	"math"

	"github.com/zeebo/errs"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("zdata")

// Value is a dynamically typed column value. A Value is one of:
//
//	nil          SQL NULL (also the normalization of "undefined")
//	bool
//	float64      always finite
//	string
//	map[string]Value, []Value   an immutable JSON tree
//
// Values must only be constructed through Normalize so that the invariants
// above hold everywhere downstream.
type Value any

// Kind partitions values for cross-kind ordering. The declaration order is
// the sort order: null < bool < number < string < json.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	}
	return "invalid"
}

// KindOf reports the kind of a normalized value.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64:
		return KindNumber
	case string:
		return KindString
	default:
		return KindJSON
	}
}

// Normalize converts v into canonical Value form. Integers widen to float64,
// json.Number parses, nested maps and slices normalize recursively.
// Non-finite numbers and unsupported Go types are rejected.
func Normalize(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return normFloat(float64(t))
	case float64:
		return normFloat(t)
	case string:
		return t, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return normFloat(f)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, el := range t {
			nel, err := Normalize(el)
			if err != nil {
				return nil, err
			}
			out[k] = nel
		}
		return out, nil
	case map[string]Value:
		out := make(map[string]Value, len(t))
		for k, el := range t {
			nel, err := Normalize(el)
			if err != nil {
				return nil, err
			}
			out[k] = nel
		}
		return out, nil
	case []any:
		out := make([]Value, 0, len(t))
		for _, el := range t {
			nel, err := Normalize(el)
			if err != nil {
				return nil, err
			}
			out = append(out, nel)
		}
		return out, nil
	case []Value:
		out := make([]Value, 0, len(t))
		for _, el := range t {
			nel, err := Normalize(el)
			if err != nil {
				return nil, err
			}
			out = append(out, nel)
		}
		return out, nil
	}
	return nil, Error.New("unsupported value type %T", v)
}

func normFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, Error.New("non-finite number %v", f)
	}
	return f, nil
}

// MustNormalize is Normalize for values known valid at compile time.
func MustNormalize(v any) Value {
	nv, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return nv
}

// Compare is the authoritative total order over values:
// null < bool < number < string < json, and within a kind by natural order.
// Strings compare by byte order, which for valid UTF-8 equals code-point
// order. JSON trees compare by their canonical serialization.
func Compare(a, b Value) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case KindNull:
		return 0
	case KindBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case KindNumber:
		av, bv := a.(float64), b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case KindString:
		av, bv := a.(string), b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		av, bv := canonicalJSON(a), canonicalJSON(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
}

// Equal reports whether two values are equal under Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// canonicalJSON serializes a JSON tree deterministically. encoding/json
// emits map keys in sorted order, which is all the canon we need.
func canonicalJSON(v Value) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Normalized trees contain only marshalable kinds.
		panic(Error.Wrap(err))
	}
	return string(data)
}

// CanonicalJSON exposes the deterministic serialization of a JSON value for
// storage key encoding.
func CanonicalJSON(v Value) string { return canonicalJSON(v) }
