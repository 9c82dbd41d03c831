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

package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastcgi-go/server/examples/echo"
	"github.com/fastcgi-go/server/fcgi"
)

// startEchoServer binds addr, serves echo.Handler on it, and returns
// the address to dial. Everything shuts down via t.Cleanup.
func startEchoServer(t *testing.T, addr Address) net.Addr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ln, cleanup, err := Listen(ctx, addr, nil)
	require.NoError(t, err)

	srv := New(ln, Options{
		Role:       fcgi.RoleResponder,
		Handler:    echo.Handler,
		MaxConns:   4,
		BufferSize: 4096,
		MaxMem:     1024,
	})
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		cleanup() //nolint:errcheck
	})
	return ln.Addr()
}

func beginRequestBody(role fcgi.Role, flags uint8) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint16(body[0:2], uint16(role))
	body[2] = flags
	return body
}

// runEchoRequest drives one full RESPONDER cycle over raw and checks
// the echoed body round-trips.
func runEchoRequest(t *testing.T, raw net.Conn, payload []byte) {
	t.Helper()
	conn := fcgi.NewConn(raw, 4096)

	require.NoError(t, conn.WriteRecord(fcgi.Record{
		Type:      fcgi.TypeBeginRequest,
		RequestID: 1,
		Content:   beginRequestBody(fcgi.RoleResponder, 0),
	}))
	env, err := fcgi.EncodePairs([]fcgi.NameValue{
		{Name: []byte("REQUEST_METHOD"), Value: []byte("POST")},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteRecord(fcgi.Record{Type: fcgi.TypeParams, RequestID: 1, Content: env}))
	require.NoError(t, conn.WriteRecord(fcgi.Record{Type: fcgi.TypeParams, RequestID: 1}))
	require.NoError(t, conn.WriteRecord(fcgi.Record{Type: fcgi.TypeStdin, RequestID: 1, Content: payload}))
	require.NoError(t, conn.WriteRecord(fcgi.Record{Type: fcgi.TypeStdin, RequestID: 1}))

	var stdout bytes.Buffer
	for {
		rec, err := conn.ReadRecord()
		require.NoError(t, err)
		switch rec.Type {
		case fcgi.TypeStdout:
			stdout.Write(rec.Content)
		case fcgi.TypeEndRequest:
			require.Equal(t, payload, stdout.Bytes())
			require.Equal(t, uint8(fcgi.StatusRequestComplete), rec.Content[4])
			return
		}
	}
}

func TestServerEchoOverTCP(t *testing.T) {
	addr := startEchoServer(t, Address{Network: "tcp", Host: "127.0.0.1:0"})

	raw, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer raw.Close()

	runEchoRequest(t, raw, []byte("hello over tcp"))
}

func TestServerEchoOverUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcgi.sock")
	addr := startEchoServer(t, Address{Network: "unix", Host: path, Mode: 0o660})

	raw, err := net.Dial("unix", addr.String())
	require.NoError(t, err)
	defer raw.Close()

	runEchoRequest(t, raw, []byte("hello over unix"))
}

func TestServerHandlesConcurrentConnections(t *testing.T) {
	addr := startEchoServer(t, Address{Network: "tcp", Host: "127.0.0.1:0"})

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i)}, 64)
		go func() {
			defer func() { done <- struct{}{} }()
			raw, err := net.Dial("tcp", addr.String())
			require.NoError(t, err)
			defer raw.Close()
			runEchoRequest(t, raw, payload)
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
