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
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopback wires a Conn's writes back to its own reads, for tests that
// only need to exercise wire framing, not two-sided I/O.
func loopback(t *testing.T, bufferSize int) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return NewConn(a, bufferSize), NewConn(b, bufferSize)
}

func TestWriteReadRecordRoundTrip(t *testing.T) {
	client, server := loopback(t, 4096)

	done := make(chan error, 1)
	go func() {
		done <- client.WriteRecord(Record{Type: TypeStdin, RequestID: 7, Content: []byte("hello")})
	}()

	rec, err := server.ReadRecord()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, TypeStdin, rec.Type)
	require.Equal(t, uint16(7), rec.RequestID)
	require.Equal(t, []byte("hello"), rec.Content)
}

func TestWriteRecordSplitsOversizedStreamPayload(t *testing.T) {
	client, server := loopback(t, 4096)

	payload := bytes.Repeat([]byte{0xAB}, 200000)
	done := make(chan error, 1)
	go func() {
		done <- client.WriteRecord(Record{Type: TypeStdout, RequestID: 1, Content: payload})
	}()

	var got []byte
	for len(got) < len(payload) {
		rec, err := server.ReadRecord()
		require.NoError(t, err)
		require.Equal(t, TypeStdout, rec.Type)
		require.Equal(t, uint16(1), rec.RequestID)
		require.LessOrEqual(t, len(rec.Content), MaxContentLen)
		got = append(got, rec.Content...)
	}
	require.NoError(t, <-done)
	require.Equal(t, payload, got)
}

func TestWriteRecordOversizedNonStreamIsValueError(t *testing.T) {
	client, _ := loopback(t, 4096)
	err := client.WriteRecord(Record{Type: TypeEndRequest, RequestID: 1, Content: make([]byte, MaxContentLen+1)})
	require.ErrorIs(t, err, ErrValue)
}

func TestReadRecordBadVersionIsProtocolError(t *testing.T) {
	client, server := loopback(t, 4096)
	go func() {
		var hdr [HeaderLen]byte
		hdr[0] = 9 // bad version
		client.rw.Write(hdr[:]) //nolint:errcheck
	}()
	_, err := server.ReadRecord()
	require.ErrorIs(t, err, ErrProtocol)
}

func TestReadRecordCleanEOFBeforeHeader(t *testing.T) {
	client, server := loopback(t, 4096)
	client.Close()
	_, err := server.ReadRecord()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRecordTruncatedAfterHeaderIsPartialRead(t *testing.T) {
	client, server := loopback(t, 4096)
	go func() {
		// A complete header promising 16 content bytes, then silence:
		// the peer closing here is mid-record, not a clean EOF.
		var hdr [HeaderLen]byte
		hdr[0] = Version1
		hdr[1] = uint8(TypeStdin)
		hdr[5] = 16
		client.rw.Write(hdr[:]) //nolint:errcheck
		client.Close()
	}()
	_, err := server.ReadRecord()
	var partial *PartialReadError
	require.ErrorAs(t, err, &partial)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestReadRecordTruncatedMidHeaderIsPartialRead(t *testing.T) {
	client, server := loopback(t, 4096)
	go func() {
		client.rw.Write([]byte{1, 2, 3}) //nolint:errcheck
		client.Close()
	}()
	_, err := server.ReadRecord()
	var partial *PartialReadError
	require.ErrorAs(t, err, &partial)
}
