// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package zdata_test

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/zql/pkg/zdata"
)

func TestNormalize(t *testing.T) {
	v, err := zdata.Normalize(int64(7))
	require.NoError(t, err)
	require.Equal(t, float64(7), v)

	v, err = zdata.Normalize(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = zdata.Normalize(math.NaN())
	require.Error(t, err)
	_, err = zdata.Normalize(math.Inf(1))
	require.Error(t, err)
	_, err = zdata.Normalize(struct{}{})
	require.Error(t, err)

	v, err = zdata.Normalize(map[string]any{"a": []any{1, "x", nil}})
	require.NoError(t, err)
	require.Equal(t, map[string]zdata.Value{"a": []zdata.Value{float64(1), "x", nil}}, v)
}

func TestCompareCrossKind(t *testing.T) {
	// null < bool < number < string < json
	ranked := []zdata.Value{
		nil,
		false, true,
		float64(-10), float64(0), float64(3.5),
		"", "a", "ab", "b",
		zdata.MustNormalize([]any{1}),
		zdata.MustNormalize(map[string]any{"k": 1}),
	}

	shuffled := append([]zdata.Value(nil), ranked...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	sort.SliceStable(shuffled, func(i, j int) bool {
		return zdata.Compare(shuffled[i], shuffled[j]) < 0
	})

	for i := range ranked {
		require.Zero(t, zdata.Compare(ranked[i], shuffled[i]), "position %d", i)
	}

	for i := 0; i < len(ranked); i++ {
		for j := 0; j < len(ranked); j++ {
			c := zdata.Compare(ranked[i], ranked[j])
			require.Equal(t, -c, zdata.Compare(ranked[j], ranked[i]))
		}
	}
}

func TestValidateRow(t *testing.T) {
	schema := &zdata.TableSchema{
		Name: "issue",
		Columns: map[string]zdata.Column{
			"id":    {Type: zdata.TypeNumber},
			"title": {Type: zdata.TypeString, Optional: true},
			"open":  {Type: zdata.TypeBool},
		},
		PrimaryKey: []string{"id"},
	}
	require.NoError(t, schema.Validate())

	require.NoError(t, schema.ValidateRow(zdata.Row{"id": float64(1), "open": true}))
	require.NoError(t, schema.ValidateRow(zdata.Row{"id": float64(1), "open": true, "title": "t"}))

	require.Error(t, schema.ValidateRow(zdata.Row{"open": true}))
	require.Error(t, schema.ValidateRow(zdata.Row{"id": nil, "open": true}))
	require.Error(t, schema.ValidateRow(zdata.Row{"id": "1", "open": true}))
	require.Error(t, schema.ValidateRow(zdata.Row{"id": float64(1), "open": true, "bogus": "x"}))
}

func TestOrderingComparator(t *testing.T) {
	ordering := zdata.Desc("rank").Then(zdata.SortPart{Column: "id"})
	cmp := ordering.Comparator()

	a := zdata.Row{"rank": float64(2), "id": float64(1)}
	b := zdata.Row{"rank": float64(1), "id": float64(2)}
	require.Negative(t, cmp(a, b))
	require.Positive(t, cmp(b, a))

	c := zdata.Row{"rank": float64(2), "id": float64(5)}
	require.Negative(t, cmp(a, c))
	require.Zero(t, cmp(a, a))
}

func TestOrderingComplete(t *testing.T) {
	o := zdata.Asc("name").Complete([]string{"id"})
	require.Equal(t, "name+,id+", o.Key())

	// already a superset
	o = zdata.Desc("id").Complete([]string{"id"})
	require.Equal(t, "id-", o.Key())
}

func TestChangedColumns(t *testing.T) {
	a := zdata.Row{"id": float64(1), "open": true, "title": "x"}
	b := zdata.Row{"id": float64(1), "open": false, "assignee": "z"}
	require.Equal(t, []string{"assignee", "open", "title"}, zdata.ChangedColumns(a, b))
}
