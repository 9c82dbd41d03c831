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

func TestOutputStreamWriteEmptyIsNoOp(t *testing.T) {
	client, server := loopback(t, 4096)
	out := newOutputStream(client, 1, TypeStdout)
	out.MirrorStderr = false

	n, err := out.Write(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	// A real write should still reach the peer, proving the empty write
	// above produced no record of its own to get in the way.
	done := make(chan error, 1)
	go func() { _, werr := out.Write([]byte("x")); done <- werr }()

	rec, err := server.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("x"), rec.Content)
	require.NoError(t, <-done)
}

func TestOutputStreamCloseIsIdempotent(t *testing.T) {
	client, server := loopback(t, 4096)
	out := newOutputStream(client, 3, TypeStdout)
	out.MirrorStderr = false

	recvd := make(chan Record, 1)
	go func() {
		rec, err := server.ReadRecord()
		require.NoError(t, err)
		recvd <- rec
	}()

	require.NoError(t, out.Close())
	rec := <-recvd
	require.Equal(t, TypeStdout, rec.Type)
	require.Empty(t, rec.Content)

	// Second close must not write another record; nothing is reading
	// from the pipe anymore, so a second write would hang forever on
	// net.Pipe's unbuffered semantics if Close weren't idempotent.
	require.NoError(t, out.Close())
}

func TestOutputStreamWriteAfterCloseFails(t *testing.T) {
	client, server := loopback(t, 4096)
	out := newOutputStream(client, 3, TypeStdout)
	out.MirrorStderr = false

	closeDone := make(chan error, 1)
	go func() {
		_, err := server.ReadRecord()
		closeDone <- err
	}()
	require.NoError(t, out.Close())
	require.NoError(t, <-closeDone)

	_, err := out.Write([]byte("late"))
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestOutputStreamWriteLinesStdoutLazy(t *testing.T) {
	client, server := loopback(t, 4096)
	out := newOutputStream(client, 5, TypeStdout)
	out.MirrorStderr = false

	var got []byte
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for i := 0; i < 3; i++ {
			rec, err := server.ReadRecord()
			require.NoError(t, err)
			got = append(got, rec.Content...)
		}
	}()

	lines := []string{"a", "b", "c"}
	idx := 0
	err := out.WriteLines(func(yield func(string) bool) {
		for idx < len(lines) {
			if !yield(lines[idx]) {
				return
			}
			idx++
		}
	})
	require.NoError(t, err)
	<-readDone
	require.Equal(t, []byte("abc"), got)
}

func TestOutputStreamWriteLinesStderrCoalesced(t *testing.T) {
	client, server := loopback(t, 4096)
	out := newOutputStream(client, 5, TypeStderr)
	out.MirrorStderr = false
	out.Coalesce = true

	recvd := make(chan Record, 1)
	go func() {
		rec, err := server.ReadRecord()
		require.NoError(t, err)
		recvd <- rec
	}()

	lines := []string{"a\n", "b\n", "c\n"}
	idx := 0
	err := out.WriteLines(func(yield func(string) bool) {
		for idx < len(lines) {
			if !yield(lines[idx]) {
				return
			}
			idx++
		}
	})
	require.NoError(t, err)

	rec := <-recvd
	require.Equal(t, []byte("a\nb\nc\n"), rec.Content)
}
