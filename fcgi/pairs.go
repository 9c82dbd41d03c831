// Copyright 2015 Matthew Holt and The Caddy Authors
// Copyright 2026 The fastcgi-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fcgi

import (
	"encoding/binary"
)

// maxPairLen is the largest name or value length the length-prefix
// encoding can represent.
const maxPairLen = 0x7fffffff

// encodeLen appends the FastCGI length prefix for n to buf: one byte
// when n < 128, or four big-endian bytes with the high bit set
// otherwise.
func encodeLen(buf []byte, n int) []byte {
	if n < 128 {
		return append(buf, byte(n))
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|0x80000000)
	return append(buf, b[:]...)
}

func decodeLen(data []byte, pos int) (n int, newPos int, err error) {
	if pos >= len(data) {
		return 0, pos, ErrValue
	}
	if data[pos]&0x80 == 0 {
		return int(data[pos]), pos + 1, nil
	}
	if pos+4 > len(data) {
		return 0, pos, ErrValue
	}
	v := binary.BigEndian.Uint32(data[pos : pos+4])
	return int(v &^ 0x80000000), pos + 4, nil
}

// EncodePairs packs an ordered sequence of name/value pairs into the
// FastCGI PARAMS/GET_VALUES_RESULT wire format. Names must be unique;
// that invariant is the caller's responsibility, not this function's.
func EncodePairs(pairs []NameValue) ([]byte, error) {
	var buf []byte
	for _, p := range pairs {
		if len(p.Name) > maxPairLen || len(p.Value) > maxPairLen {
			return nil, ErrValue
		}
		buf = encodeLen(buf, len(p.Name))
		buf = encodeLen(buf, len(p.Value))
		buf = append(buf, p.Name...)
		buf = append(buf, p.Value...)
	}
	return buf, nil
}

// NameValue is one packed name/value pair, e.g. a PARAMS environment
// entry or a GET_VALUES capability query.
type NameValue struct {
	Name  []byte
	Value []byte
}

// DecodePairs unpacks a buffer of consecutive length-prefixed
// name/value pairs. A buffer that ends mid-field is ErrValue.
func DecodePairs(data []byte) ([]NameValue, error) {
	var pairs []NameValue
	pos := 0
	for pos < len(data) {
		nameLen, pos2, err := decodeLen(data, pos)
		if err != nil {
			return nil, ErrValue
		}
		pos = pos2
		valueLen, pos2, err := decodeLen(data, pos)
		if err != nil {
			return nil, ErrValue
		}
		pos = pos2
		if pos+nameLen+valueLen > len(data) {
			return nil, ErrValue
		}
		name := data[pos : pos+nameLen]
		pos += nameLen
		value := data[pos : pos+valueLen]
		pos += valueLen
		pairs = append(pairs, NameValue{Name: name, Value: value})
	}
	return pairs, nil
}
