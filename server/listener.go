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

// Package server implements the listener and worker-supervisor layer
// that sits above package fcgi: accepting connections (TCP or a local
// filesystem socket), bounding how many run concurrently, and
// optionally fanning the listener out across worker processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fastcgi-go/server/internal/socketperm"
)

// Address is a parsed listening endpoint: either a TCP host:port or a
// local filesystem path (optionally carrying a "|mode" permission
// suffix, see internal/socketperm).
type Address struct {
	Network string // "tcp" or "unix"
	Host    string // host:port for tcp; filesystem path for unix
	Mode    fs.FileMode
}

// ParseAddress accepts either "host:port" (taken as TCP) or a
// filesystem path beginning with "/" or "./" (taken as a unix-domain
// socket, optionally suffixed "|mode"). This mirrors the two address
// shapes a FastCGI upstream is ever configured to dial.
func ParseAddress(addr string) (Address, error) {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "./") || strings.HasPrefix(addr, "unix:") {
		path := strings.TrimPrefix(addr, "unix:")
		p, mode, err := socketperm.Split(path)
		if err != nil {
			return Address{}, err
		}
		return Address{Network: "unix", Host: p, Mode: mode}, nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Address{}, fmt.Errorf("server: invalid address %q: %w", addr, err)
	}
	return Address{Network: "tcp", Host: addr}, nil
}

func (a Address) String() string {
	if a.Network == "unix" {
		return "unix:" + a.Host
	}
	return "tcp:" + a.Host
}

// Listen binds a.Network/a.Host, replacing any stale unix socket file
// at that path, and applying a.Mode atomically at bind time so the
// socket is never observable with interim permissions. The returned
// cleanup removes the socket file; it is a no-op for TCP. Callers that
// run multiple worker processes must only invoke cleanup once, from
// the process that owns the listener (see Supervisor).
func Listen(ctx context.Context, a Address, logger *zap.Logger) (net.Listener, func() error, error) {
	switch a.Network {
	case "unix":
		return listenUnix(a, logger)
	default:
		return listenTCP(ctx, a)
	}
}

func listenUnix(a Address, logger *zap.Logger) (net.Listener, func() error, error) {
	if err := os.Remove(a.Host); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("server: removing stale socket %s: %w", a.Host, err)
	}

	var ln net.Listener
	err := socketperm.WithMode(a.Mode, func() error {
		var err error
		ln, err = net.Listen("unix", a.Host)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() error {
		err := os.Remove(a.Host)
		if logger != nil && err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("removing socket file", zap.String("path", a.Host), zap.Error(err))
		}
		return nil
	}
	return ln, cleanup, nil
}

// listenTCP binds a TCP listener with SO_REUSEPORT enabled, the same
// control hook caddy's listen_unix.go installs for its own TCP
// listeners. Worker processes run by Supervisor do not bind their own
// socket; they inherit this one (see FileListener).
func listenTCP(ctx context.Context, a Address) (net.Listener, func() error, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				ctlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", a.Host)
	if err != nil {
		return nil, nil, err
	}
	return ln, func() error { return nil }, nil
}

// ListenerFile duplicates ln's underlying file descriptor so it can be
// inherited by a forked worker process via exec.Cmd.ExtraFiles. Both
// *net.TCPListener and *net.UnixListener implement the File() method
// this relies on. The returned *os.File is independent of ln; closing
// one does not close the other.
func ListenerFile(ln net.Listener) (*os.File, error) {
	type filer interface {
		File() (*os.File, error)
	}
	f, ok := ln.(filer)
	if !ok {
		return nil, fmt.Errorf("server: listener type %T does not support fd sharing", ln)
	}
	return f.File()
}

// inheritedListenerFD is the descriptor number a worker process's
// listening socket arrives on: fd 0-2 are stdin/stdout/stderr, and
// exec.Cmd.ExtraFiles always starts the child's inherited files at 3.
const inheritedListenerFD = 3

// FileListener reconstructs a net.Listener from the file descriptor a
// supervisor passed down via exec.Cmd.ExtraFiles (see
// SupervisorOptions.ListenerFile). Workers call this instead of
// binding their own socket.
func FileListener() (net.Listener, error) {
	f := os.NewFile(inheritedListenerFD, "fcgi-listener")
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("server: reconstructing inherited listener: %w", err)
	}
	return ln, nil
}

// tune applies the per-accepted-connection socket options: TCP_NODELAY
// (FastCGI records are small and latency-sensitive; Nagle's algorithm
// would needlessly coalesce them) and optional receive/send buffer
// sizes.
func tune(conn net.Conn, rcvBuf, sndBuf int) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	if rcvBuf > 0 {
		_ = tc.SetReadBuffer(rcvBuf)
	}
	if sndBuf > 0 {
		_ = tc.SetWriteBuffer(sndBuf)
	}
}
