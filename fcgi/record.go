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

// Package fcgi implements the FastCGI 1.0 wire protocol and the
// per-connection state machine that multiplexes requests over it. It
// has no knowledge of HTTP; the request handler it invokes is an
// opaque callable operating on three byte streams and an environment
// map.
package fcgi

import (
	"encoding/binary"
)

// Protocol constants, bit-exact per the FastCGI 1.0 specification.
const (
	Version1      = 1
	HeaderLen     = 8
	MaxContentLen = 65535

	// NullRequestID is the request id used by management records.
	NullRequestID uint16 = 0
)

// RecordType identifies the kind of payload a Record carries.
type RecordType uint8

const (
	TypeBeginRequest    RecordType = 1
	TypeAbortRequest    RecordType = 2
	TypeEndRequest      RecordType = 3
	TypeParams          RecordType = 4
	TypeStdin           RecordType = 5
	TypeStdout          RecordType = 6
	TypeStderr          RecordType = 7
	TypeData            RecordType = 8
	TypeGetValues       RecordType = 9
	TypeGetValuesResult RecordType = 10
	TypeUnknownType     RecordType = 11
)

func (t RecordType) String() string {
	switch t {
	case TypeBeginRequest:
		return "BEGIN_REQUEST"
	case TypeAbortRequest:
		return "ABORT_REQUEST"
	case TypeEndRequest:
		return "END_REQUEST"
	case TypeParams:
		return "PARAMS"
	case TypeStdin:
		return "STDIN"
	case TypeStdout:
		return "STDOUT"
	case TypeStderr:
		return "STDERR"
	case TypeData:
		return "DATA"
	case TypeGetValues:
		return "GET_VALUES"
	case TypeGetValuesResult:
		return "GET_VALUES_RESULT"
	case TypeUnknownType:
		return "UNKNOWN_TYPE"
	default:
		return "UNKNOWN"
	}
}

// isStreamType reports whether t carries a byte-stream payload that
// may legally be split across multiple records when oversized.
func (t RecordType) isStreamType() bool {
	switch t {
	case TypeStdin, TypeStdout, TypeStderr, TypeData:
		return true
	default:
		return false
	}
}

// Role identifies what kind of application the server is configured
// (or a BEGIN_REQUEST asks) to run.
type Role uint16

const (
	RoleResponder  Role = 1
	RoleAuthorizer Role = 2
	RoleFilter     Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "RESPONDER"
	case RoleAuthorizer:
		return "AUTHORIZER"
	case RoleFilter:
		return "FILTER"
	default:
		return "UNKNOWN_ROLE"
	}
}

// ProtocolStatus is carried in the body of an END_REQUEST record.
type ProtocolStatus uint8

const (
	StatusRequestComplete    ProtocolStatus = 0
	StatusCantMultiplexConns ProtocolStatus = 1
	StatusOverloaded         ProtocolStatus = 2
	StatusUnknownRole        ProtocolStatus = 3
)

// FlagKeepConn is the only defined BEGIN_REQUEST flag bit.
const FlagKeepConn uint8 = 0x01

// Record is a single framed message on the FastCGI wire. Once
// constructed it is treated as immutable by the rest of the package.
type Record struct {
	Type      RecordType
	RequestID uint16
	Content   []byte
}

// header is the 8-byte wire layout shared by every record, described
// in network byte order.
type header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

func (h header) marshal(buf []byte) {
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], h.ContentLength)
	buf[6] = h.PaddingLength
	buf[7] = h.Reserved
}

func unmarshalHeader(buf []byte) header {
	return header{
		Version:       buf[0],
		Type:          buf[1],
		RequestID:     binary.BigEndian.Uint16(buf[2:4]),
		ContentLength: binary.BigEndian.Uint16(buf[4:6]),
		PaddingLength: buf[6],
		Reserved:      buf[7],
	}
}

// paddingFor returns the zero padding that brings contentLen up to the
// next multiple of 8, the alignment the FastCGI spec recommends.
func paddingFor(contentLen int) uint8 {
	return uint8(-contentLen & 7)
}

// maxFragment is the largest content length we ever place in a single
// record when fragmenting an oversized stream write. It stops short of
// MaxContentLen at the last 8-byte boundary, so a full fragment never
// needs padding.
const maxFragment = 65528

// beginRequestBody is the 8-byte BEGIN_REQUEST record body.
type beginRequestBody struct {
	Role  Role
	Flags uint8
}

func packBeginRequest(b beginRequestBody) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(b.Role))
	buf[2] = b.Flags
	return buf
}

func unpackBeginRequest(content []byte) (beginRequestBody, error) {
	if len(content) < 8 {
		return beginRequestBody{}, ErrValue
	}
	return beginRequestBody{
		Role:  Role(binary.BigEndian.Uint16(content[0:2])),
		Flags: content[2],
	}, nil
}

// endRequestBody is the 8-byte END_REQUEST record body.
type endRequestBody struct {
	AppStatus      int32
	ProtocolStatus ProtocolStatus
}

func packEndRequest(b endRequestBody) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.AppStatus))
	buf[4] = uint8(b.ProtocolStatus)
	return buf
}

func unpackEndRequest(content []byte) (endRequestBody, error) {
	if len(content) < 8 {
		return endRequestBody{}, ErrValue
	}
	return endRequestBody{
		AppStatus:      int32(binary.BigEndian.Uint32(content[0:4])),
		ProtocolStatus: ProtocolStatus(content[4]),
	}, nil
}

// packUnknownType builds the 8-byte UNKNOWN_TYPE record body.
func packUnknownType(t uint8) []byte {
	buf := make([]byte, 8)
	buf[0] = t
	return buf
}

func unpackUnknownType(content []byte) (uint8, error) {
	if len(content) < 1 {
		return 0, ErrValue
	}
	return content[0], nil
}
