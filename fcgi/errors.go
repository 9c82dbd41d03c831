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
	"errors"
	"fmt"
)

// ErrProtocol indicates a violation of the FastCGI wire protocol: a bad
// version byte, a record referencing an unknown request id, or a frame
// truncated mid-record. It is always fatal to the connection.
var ErrProtocol = errors.New("fcgi: protocol error")

// ErrValue indicates a caller supplied a value the protocol cannot
// encode: a non-stream record whose content exceeds 65535 bytes, or a
// name/value pair longer than 0x7fffffff bytes.
var ErrValue = errors.New("fcgi: value error")

// ErrStreamClosed is returned by OutputStream.Write after Close, and by
// InputStream.Feed after EOF has already been fed.
var ErrStreamClosed = errors.New("fcgi: use of closed stream")

// ErrAborted is the context.Cause set on a Request's Context when the
// client sends ABORT_REQUEST for it.
var ErrAborted = errors.New("fcgi: request aborted by client")

// PartialReadError is returned by the buffered reader when the
// underlying source yields fewer bytes than requested after at least
// one byte of the current record has already been consumed. The caller
// must treat this as ErrProtocol; a clean close before any bytes of a
// new record is reported as io.EOF instead, never as this error.
type PartialReadError struct {
	Expected int
	Got      int
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("fcgi: expected %d bytes, got %d", e.Expected, e.Got)
}

func (e *PartialReadError) Unwrap() error { return ErrProtocol }

// UsageError indicates the request-handler-facing API was misused:
// feeding an InputStream after EOF, or writing to a closed
// OutputStream.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string { return "fcgi: " + e.Op + ": " + e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }
