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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := header{
		Version:       Version1,
		Type:          uint8(TypeStdout),
		RequestID:     4242,
		ContentLength: 65535,
		PaddingLength: 1,
		Reserved:      0,
	}
	buf := make([]byte, HeaderLen)
	h.marshal(buf)
	got := unmarshalHeader(buf)
	require.Equal(t, h, got)
}

func TestBeginRequestBodyRoundTrip(t *testing.T) {
	b := beginRequestBody{Role: RoleFilter, Flags: FlagKeepConn}
	buf := packBeginRequest(b)
	got, err := unpackBeginRequest(buf)
	require.NoError(t, err)
	require.Equal(t, b.Role, got.Role)
	require.Equal(t, b.Flags, got.Flags)
}

func TestEndRequestBodyRoundTrip(t *testing.T) {
	b := endRequestBody{AppStatus: -7, ProtocolStatus: StatusOverloaded}
	buf := packEndRequest(b)
	got, err := unpackEndRequest(buf)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestUnknownTypeBodyRoundTrip(t *testing.T) {
	buf := packUnknownType(123)
	got, err := unpackUnknownType(buf)
	require.NoError(t, err)
	require.Equal(t, uint8(123), got)
}

func TestUnpackBeginRequestTooShort(t *testing.T) {
	_, err := unpackBeginRequest([]byte{1, 2})
	require.ErrorIs(t, err, ErrValue)
}

func TestPaddingForRounds8(t *testing.T) {
	cases := map[int]uint8{0: 0, 1: 7, 7: 1, 8: 0, 9: 7, 65535: 1}
	for contentLen, want := range cases {
		require.Equal(t, want, paddingFor(contentLen), "contentLen=%d", contentLen)
	}
}
