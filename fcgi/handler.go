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
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// errUnknownRecordType terminates the reader once the UNKNOWN_TYPE
// reply has been written: the peer is speaking a protocol revision this
// server doesn't know, and anything after the unrecognized record can't
// be trusted to frame correctly.
var errUnknownRecordType = errors.New("fcgi: unknown record type")

// requestState tracks the bookkeeping the connection handler needs for
// one in-flight request, alongside the application-visible Request.
// All fields except spawned are touched only by the reader goroutine.
type requestState struct {
	req        *Request
	paramsBuf  []byte
	paramsDone bool
	stdinDone  bool
	dataDone   bool
	spawned    bool
}

// connState is the per-connection multiplexing state machine: one
// reader goroutine (running Serve's loop) routes incoming records to
// per-request state, while each request's Handler runs in its own
// goroutine once its role's spawn trigger fires. mu protects every
// field below; it is held only for bookkeeping, never across a
// blocking conn write or a Handler call.
type connState struct {
	conn   *Conn
	handle Handler
	role   Role
	caps   Capabilities
	maxMem int
	logger *zap.Logger

	// handlers counts live handler goroutines; Serve waits on it before
	// returning so a caller's deferred Close can never cut a handler's
	// output short.
	handlers sync.WaitGroup

	mu         sync.Mutex
	requests   map[uint16]*requestState
	peerClosed bool
	keepOpen   bool
}

// ServeConfig configures Serve. Role is the single role this
// connection's application supports; a BEGIN_REQUEST for any other
// role is rejected with FCGI_UNKNOWN_ROLE, per FastCGI 1.0 §3.3.
type ServeConfig struct {
	Handler      Handler
	Role         Role
	Capabilities Capabilities
	MaxMem       int
	Logger       *zap.Logger
}

// Serve runs the connection's multiplexing loop until the peer closes
// the connection, a protocol error occurs, or the connection-close
// arbiter decides to close it. It returns only once every handler
// goroutine it spawned has finalized (streams closed, END_REQUEST
// written) and the connection is closed, so callers may close or
// discard the transport freely afterward. A clean shutdown returns
// nil.
func Serve(conn *Conn, cfg ServeConfig) error {
	s := &connState{
		conn:     conn,
		handle:   cfg.Handler,
		role:     cfg.Role,
		caps:     cfg.Capabilities,
		maxMem:   cfg.MaxMem,
		logger:   cfg.Logger,
		requests: make(map[uint16]*requestState),
	}
	return s.teardown(s.readLoop())
}

func (s *connState) readLoop() error {
	for {
		rec, err := s.conn.ReadRecord()
		if err != nil {
			return err
		}
		if err := s.dispatch(rec); err != nil {
			return err
		}
	}
}

// teardown runs once the read loop has ended, for whatever reason. No
// more bytes can arrive, so every request still in the table is either
// running a handler that must be allowed to finalize, or was never
// spawned and never will be. A clean peer EOF (including a SHUT_WR
// half-close from a client that is done writing and now drains the
// response) must NOT close the connection while handlers are in
// flight: the close stays with the arbiter, which fires once the last
// handler removes itself from the table.
func (s *connState) teardown(readErr error) error {
	fatal := !isCleanClose(readErr) && !errors.Is(readErr, errUnknownRecordType)

	s.mu.Lock()
	s.peerClosed = true
	var leftover []*requestState
	for id, rs := range s.requests {
		leftover = append(leftover, rs)
		if !rs.spawned {
			delete(s.requests, id)
		}
	}
	s.mu.Unlock()

	for _, rs := range leftover {
		if !rs.spawned {
			rs.req.finish()
			rs.req.closeStreams()
			continue
		}
		if fatal {
			rs.req.abort()
		}
		// A handler may be blocked reading a stream whose EOF record
		// the peer never sent; feed the EOF it can no longer send.
		rs.req.Stdin.Feed(nil) //nolint:errcheck
		if rs.req.Data != nil {
			rs.req.Data.Feed(nil) //nolint:errcheck
		}
	}

	if fatal {
		s.conn.Close()
		s.handlers.Wait()
		return readErr
	}
	s.maybeClose()
	s.handlers.Wait()
	return nil
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func (s *connState) logError(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Error(msg, fields...)
	}
}

func (s *connState) dispatch(rec Record) error {
	if rec.RequestID == NullRequestID {
		return s.handleManagement(rec)
	}
	switch rec.Type {
	case TypeBeginRequest:
		return s.handleBeginRequest(rec)
	case TypeParams:
		return s.handleParams(rec)
	case TypeStdin:
		return s.handleStdin(rec)
	case TypeData:
		return s.handleData(rec)
	case TypeAbortRequest:
		return s.handleAbort(rec)
	default:
		return s.replyUnknownType(rec)
	}
}

// replyUnknownType answers an unrecognized record type and reports
// errUnknownRecordType so Serve stops reading.
func (s *connState) replyUnknownType(rec Record) error {
	if err := s.conn.WriteRecord(Record{
		Type:    TypeUnknownType,
		Content: packUnknownType(uint8(rec.Type)),
	}); err != nil {
		return err
	}
	s.logError("fcgi: unrecognized record type", zap.Uint8("type", uint8(rec.Type)))
	return errUnknownRecordType
}

// lookupRequest fetches the state for rec's request id. A per-request
// record naming an id with no live Request is a protocol error: the
// peer is either confused about which ids it opened or replaying a
// request this connection already finished.
func (s *connState) lookupRequest(rec Record) (*requestState, error) {
	s.mu.Lock()
	rs := s.requests[rec.RequestID]
	s.mu.Unlock()
	if rs == nil {
		s.logError("fcgi: record for unknown request id",
			zap.Uint16("request_id", rec.RequestID),
			zap.String("type", rec.Type.String()))
		return nil, ErrProtocol
	}
	return rs, nil
}

func (s *connState) handleManagement(rec Record) error {
	switch rec.Type {
	case TypeGetValues:
		query, err := DecodePairs(rec.Content)
		if err != nil {
			// A malformed GET_VALUES query is answered with nothing
			// recognized rather than torn down; it isn't request data.
			query = nil
		}
		payload, err := EncodePairs(s.caps.answer(query))
		if err != nil {
			return err
		}
		return s.conn.WriteRecord(Record{Type: TypeGetValuesResult, Content: payload})
	default:
		return s.replyUnknownType(rec)
	}
}

func (s *connState) handleBeginRequest(rec Record) error {
	body, err := unpackBeginRequest(rec.Content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.requests[rec.RequestID]; exists {
		s.mu.Unlock()
		return nil
	}
	keepConn := body.Flags&FlagKeepConn != 0
	if keepConn {
		s.keepOpen = true
	}
	if body.Role != s.role {
		s.mu.Unlock()
		if err := s.sendEndRequest(rec.RequestID, 0, StatusUnknownRole); err != nil {
			return err
		}
		s.maybeClose()
		return nil
	}
	req := newRequest(rec.RequestID, body.Role, keepConn, s.conn, s.maxMem)
	s.requests[rec.RequestID] = &requestState{req: req}
	s.mu.Unlock()
	return nil
}

func (s *connState) handleParams(rec Record) error {
	rs, err := s.lookupRequest(rec)
	if err != nil {
		return err
	}

	if len(rec.Content) == 0 {
		pairs, err := DecodePairs(rs.paramsBuf)
		if err != nil {
			s.logError("fcgi: malformed PARAMS stream", zap.Uint16("request_id", rec.RequestID), zap.Error(err))
		} else {
			for _, p := range pairs {
				rs.req.Env[string(p.Name)] = string(p.Value)
			}
		}
		rs.paramsBuf = nil
		rs.paramsDone = true
		s.maybeSpawn(rs)
		return nil
	}
	rs.paramsBuf = append(rs.paramsBuf, rec.Content...)
	return nil
}

func (s *connState) handleStdin(rec Record) error {
	rs, err := s.lookupRequest(rec)
	if err != nil {
		return err
	}
	if err := rs.req.Stdin.Feed(rec.Content); err != nil {
		s.logError("fcgi: stdin feed", zap.Uint16("request_id", rec.RequestID), zap.Error(err))
	}
	if len(rec.Content) == 0 {
		rs.stdinDone = true
		s.maybeSpawn(rs)
	}
	return nil
}

func (s *connState) handleData(rec Record) error {
	rs, err := s.lookupRequest(rec)
	if err != nil {
		return err
	}
	if rs.req.Data == nil {
		return nil
	}
	if err := rs.req.Data.Feed(rec.Content); err != nil {
		s.logError("fcgi: data feed", zap.Uint16("request_id", rec.RequestID), zap.Error(err))
	}
	if len(rec.Content) == 0 {
		rs.dataDone = true
		s.maybeSpawn(rs)
	}
	return nil
}

// maybeSpawn starts the request's Handler goroutine once every stream
// its role spawns on has reached EOF: PARAMS alone for AUTHORIZER,
// PARAMS plus STDIN for RESPONDER, PARAMS plus DATA for FILTER.
// Gating every role on PARAMS keeps Env immutable by the time the
// Handler can observe it, whichever order the streams close in on the
// wire.
func (s *connState) maybeSpawn(rs *requestState) {
	ready := rs.paramsDone
	switch rs.req.Role {
	case RoleResponder:
		ready = ready && rs.stdinDone
	case RoleFilter:
		ready = ready && rs.dataDone
	}
	if !ready {
		return
	}

	s.mu.Lock()
	if rs.spawned {
		s.mu.Unlock()
		return
	}
	rs.spawned = true
	s.mu.Unlock()

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		appStatus := s.invokeHandler(rs.req)
		s.completeRequest(rs, appStatus)
	}()
}

func (s *connState) invokeHandler(req *Request) (appStatus int32) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("fcgi: handler panic",
				zap.Uint16("request_id", req.ID),
				zap.Any("recover", r),
				zap.Stack("stack"))
			appStatus = 1
		}
	}()
	if err := s.handle(req.Context(), req); err != nil {
		s.logError("fcgi: handler error", zap.Uint16("request_id", req.ID), zap.Error(err))
		return 1
	}
	return 0
}

func (s *connState) completeRequest(rs *requestState, appStatus int32) {
	req := rs.req
	req.Stdout.Close()
	req.Stderr.Close()
	if err := s.sendEndRequest(req.ID, appStatus, StatusRequestComplete); err != nil {
		s.logError("fcgi: send END_REQUEST", zap.Uint16("request_id", req.ID), zap.Error(err))
	}
	req.finish()
	req.closeStreams()

	s.mu.Lock()
	delete(s.requests, req.ID)
	s.mu.Unlock()
	s.maybeClose()
}

func (s *connState) handleAbort(rec Record) error {
	s.mu.Lock()
	rs := s.requests[rec.RequestID]
	if rs == nil {
		s.mu.Unlock()
		return ErrProtocol
	}
	if rs.spawned {
		s.mu.Unlock()
		rs.req.abort()
		return nil
	}
	delete(s.requests, rec.RequestID)
	s.mu.Unlock()

	rs.req.closeStreams()
	if err := s.sendEndRequest(rec.RequestID, 0, StatusRequestComplete); err != nil {
		s.logError("fcgi: send END_REQUEST after abort", zap.Uint16("request_id", rec.RequestID), zap.Error(err))
	}
	s.maybeClose()
	return nil
}

func (s *connState) sendEndRequest(id uint16, appStatus int32, status ProtocolStatus) error {
	return s.conn.WriteRecord(Record{
		Type:      TypeEndRequest,
		RequestID: id,
		Content:   packEndRequest(endRequestBody{AppStatus: appStatus, ProtocolStatus: status}),
	})
}

// maybeClose implements the connection-close arbiter: the connection
// closes once there are no in-flight requests and either the peer has
// already closed its write side or no request on this connection ever
// asked to keep it open.
func (s *connState) maybeClose() {
	s.mu.Lock()
	noRequests := len(s.requests) == 0
	shouldClose := noRequests && (s.peerClosed || !s.keepOpen)
	s.mu.Unlock()
	if shouldClose {
		s.conn.Close()
	}
}
