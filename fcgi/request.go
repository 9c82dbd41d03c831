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
	"context"
)

// Handler is the application-supplied callback invoked once a
// Request's spawn trigger fires (see Request doc). A nil return ends
// the request with app_status 0; a non-nil error, or a panic, ends it
// with app_status 1. Either way the connection handler closes Stdout
// and Stderr and writes END_REQUEST afterward, so a Handler never
// touches the wire protocol directly.
//
// The context is canceled when the client aborts the request;
// cancellation is cooperative, so a Handler doing long-running work
// should watch ctx.Done().
type Handler func(ctx context.Context, req *Request) error

// Request is the application-visible view of one FastCGI request
// multiplexed on a Conn: its role, its environment, and its three
// byte streams. Exactly which streams are populated depends on Role:
//
//   - RESPONDER: Stdin and Stdout are used; Stderr is available for
//     diagnostics; Data is nil.
//   - AUTHORIZER: only Stdin (typically empty) and Stdout/Stderr; Data
//     is nil.
//   - FILTER: Stdin, Data, Stdout, and Stderr are all used.
//
// A Request's Handler is invoked by the connection handler once the
// role's spawn trigger fires (PARAMS EOF for AUTHORIZER, STDIN EOF for
// RESPONDER, DATA EOF for FILTER), not when BEGIN_REQUEST arrives. The
// trigger additionally waits for PARAMS EOF in every role, so Env is
// always complete and immutable by the time the Handler runs.
type Request struct {
	ID       uint16
	Role     Role
	Env      map[string]string
	KeepConn bool

	Stdin  *InputStream
	Data   *InputStream // non-nil only for RoleFilter
	Stdout *OutputStream
	Stderr *OutputStream

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// newRequest builds a Request in its initial state: streams ready to
// be fed by the connection's reader goroutine, Env empty until PARAMS
// records arrive.
func newRequest(id uint16, role Role, keepConn bool, conn *Conn, maxMem int) *Request {
	ctx, cancel := context.WithCancelCause(context.Background())
	stdin := NewInputStream()
	stdin.MaxMem = maxMem
	req := &Request{
		ID:       id,
		Role:     role,
		Env:      make(map[string]string),
		KeepConn: keepConn,
		Stdin:    stdin,
		Stdout:   newOutputStream(conn, id, TypeStdout),
		Stderr:   newOutputStream(conn, id, TypeStderr),
		ctx:      ctx,
		cancel:   cancel,
	}
	if role == RoleFilter {
		data := NewInputStream()
		data.MaxMem = maxMem
		req.Data = data
	}
	return req
}

// Context returns the per-request context. It is canceled, with
// ErrAborted as its Cause, when the client sends ABORT_REQUEST for
// this request id. Handlers that perform long-running work should
// select on ctx.Done() to cut work short.
func (r *Request) Context() context.Context {
	return r.ctx
}

// abort cancels the request's context, signaling Handler (if already
// running) to stop. It is idempotent.
func (r *Request) abort() {
	r.cancel(ErrAborted)
}

// finish cancels the request's context with a nil cause once the
// request completes normally, releasing any resources tied to ctx.
func (r *Request) finish() {
	r.cancel(nil)
}

// closeStreams releases temp-file-backed InputStream resources. Safe
// to call multiple times.
func (r *Request) closeStreams() {
	if r.Stdin != nil {
		r.Stdin.Close()
	}
	if r.Data != nil {
		r.Data.Close()
	}
}
