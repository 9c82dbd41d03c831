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
	"context"
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastcgi-go/server/fcgi"
)

// Options configures a Server.
type Options struct {
	Addr       Address
	Role       fcgi.Role
	Handler    fcgi.Handler
	MaxConns   int // concurrent accepted connections; 0 means unbounded
	BufferSize int // fcgi.NewConn's read-buffer granularity
	MaxMem     int // InputStream landing threshold
	RecvBuf    int
	SendBuf    int
	Logger     *zap.Logger
}

// Server accepts connections on one Address and runs package fcgi's
// connection handler over each, bounding concurrency to MaxConns. One
// Server serves one worker process; Supervisor fans multiple Servers
// out across processes when configured to do so.
type Server struct {
	opts Options
	ln   net.Listener
	sem  chan struct{} // nil when MaxConns <= 0
}

// New wraps an already-bound listener. Use NewServer to additionally
// create the listener from opts.Addr.
func New(ln net.Listener, opts Options) *Server {
	s := &Server{opts: opts, ln: ln}
	if opts.MaxConns > 0 {
		s.sem = make(chan struct{}, opts.MaxConns)
	}
	return s
}

// NewServer binds opts.Addr and returns a Server plus the address's
// cleanup function (removes a unix socket file; no-op for TCP).
func NewServer(ctx context.Context, opts Options) (*Server, func() error, error) {
	ln, cleanup, err := Listen(ctx, opts.Addr, opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	return New(ln, opts), cleanup, nil
}

// Serve accepts connections until ctx is canceled or the listener is
// closed. Each accepted connection is tuned (TCP_NODELAY, optional
// buffer sizes), wrapped in an fcgi.Conn, and handed to an errgroup
// goroutine running fcgi.Serve. Canceling ctx closes ln to unblock
// Accept, and ln is also closed once Serve's final wait for every
// in-flight connection handler has returned.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	go func() {
		<-gctx.Done()
		s.ln.Close()
	}()

	for {
		// Hold a slot before even calling Accept, so a saturated server
		// doesn't pull the next connection off the kernel backlog until
		// an existing one finishes.
		if s.sem != nil {
			s.sem <- struct{}{}
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if s.sem != nil {
				<-s.sem
			}
			if errors.Is(err, net.ErrClosed) || gctx.Err() != nil {
				break
			}
			return err
		}
		g.Go(func() error {
			defer func() {
				if s.sem != nil {
					<-s.sem
				}
			}()
			s.handle(conn)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) handle(raw net.Conn) {
	tune(raw, s.opts.RecvBuf, s.opts.SendBuf)

	connID := uuid.NewString()
	logger := s.opts.Logger
	if logger != nil {
		logger = logger.With(zap.String("conn_id", connID), zap.String("remote", raw.RemoteAddr().String()))
	}

	conn := fcgi.NewConn(raw, s.opts.BufferSize)
	defer conn.Close()

	err := fcgi.Serve(conn, fcgi.ServeConfig{
		Handler: s.opts.Handler,
		Role:    s.opts.Role,
		Capabilities: fcgi.Capabilities{
			MaxConns:  s.opts.MaxConns,
			MaxReqs:   s.opts.MaxConns,
			MpxsConns: true,
		},
		MaxMem: s.opts.MaxMem,
		Logger: logger,
	})
	if err != nil && logger != nil {
		logger.Warn("connection ended", zap.Error(err))
	}
}
