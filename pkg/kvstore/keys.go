// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package kvstore

import (
	"encoding/binary"
	"math"

	"storj.io/zql/pkg/zdata"
)

// Order-preserving tuple encoding. Each part is self-delimiting, so the
// encoding of a tuple is a byte prefix of the encoding of any extension of
// that tuple, and byte order over encoded keys equals zdata.Compare order
// part by part. That lets operator state like ("pKeySet", value, pk...) be
// range-scanned on any byte-ordered backend.

const (
	tagNull   = 0x01
	tagFalse  = 0x02
	tagTrue   = 0x03
	tagNumber = 0x04
	tagString = 0x05
	tagJSON   = 0x06
)

// EncodeKey encodes a tuple of values into a byte-ordered key.
func EncodeKey(parts ...zdata.Value) Key {
	var key Key
	for _, part := range parts {
		key = AppendKeyPart(key, part)
	}
	return key
}

// AppendKeyPart appends the order-preserving encoding of one value.
func AppendKeyPart(dst Key, part zdata.Value) Key {
	switch zdata.KindOf(part) {
	case zdata.KindNull:
		return append(dst, tagNull)
	case zdata.KindBool:
		if part.(bool) {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case zdata.KindNumber:
		dst = append(dst, tagNumber)
		bits := math.Float64bits(part.(float64))
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(dst, bits)
	case zdata.KindString:
		return appendEscaped(append(dst, tagString), part.(string))
	default:
		return appendEscaped(append(dst, tagJSON), zdata.CanonicalJSON(part))
	}
}

// appendEscaped writes s with 0x00 escaped as 0x00 0xFF and a 0x00 0x00
// terminator, preserving order between strings where one is a prefix of the
// other.
func appendEscaped(dst Key, s string) Key {
	for i := 0; i < len(s); i++ {
		c := s[i]
		dst = append(dst, c)
		if c == 0x00 {
			dst = append(dst, 0xFF)
		}
	}
	return append(dst, 0x00, 0x00)
}
