// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package memstore_test

import (
	"testing"

	"storj.io/zql/pkg/kvstore/memstore"
	"storj.io/zql/pkg/kvstore/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunStorage(t, memstore.New())
}
