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
	"os"
	"sync"
)

// OutputStream is the STDOUT or STDERR side of a Request. A write of
// up to MaxContentLen bytes goes out as one record; a longer one is
// fragmented into records of at most maxFragment bytes. Close
// emits the single empty record that signals EOF to the client and is
// safe to call more than once or not at all (the connection handler
// always calls it once a request finishes).
type OutputStream struct {
	conn  *Conn
	reqID uint16
	typ   RecordType

	// MirrorStderr, meaningful only when typ is TypeStderr, also copies
	// every write to the server process's own stderr so operators see
	// application diagnostics in the server's log stream even when a
	// client never reads them. Defaults to true.
	MirrorStderr bool

	// Coalesce, meaningful only when typ is TypeStderr, changes
	// WriteLines to buffer an entire batch of lines into a single Write
	// instead of emitting one record per line. Useful for STDERR, where
	// line-by-line framing overhead rarely matters and batching cuts
	// record count.
	Coalesce bool

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// newOutputStream constructs an OutputStream bound to conn/reqID/typ.
// typ must be TypeStdout or TypeStderr.
func newOutputStream(conn *Conn, reqID uint16, typ RecordType) *OutputStream {
	return &OutputStream{
		conn:         conn,
		reqID:        reqID,
		typ:          typ,
		MirrorStderr: typ == TypeStderr,
	}
}

// Write fragments p into records and sends them. It implements
// io.Writer. A zero-length p is a no-op; use Close to signal EOF.
func (o *OutputStream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, &UsageError{Op: "write", Err: ErrStreamClosed}
	}
	if err := o.conn.WriteRecord(Record{Type: o.typ, RequestID: o.reqID, Content: p}); err != nil {
		return 0, err
	}
	if o.typ == TypeStderr && o.MirrorStderr {
		os.Stderr.Write(p) //nolint:errcheck
	}
	return len(p), nil
}

// WriteLines writes each line lines yields. For TypeStdout, and for
// TypeStderr without Coalesce set, each line is sent as its own
// record as soon as it is produced, so a slow producer streams output
// incrementally. When Coalesce is set, all lines are buffered and sent
// as one write.
func (o *OutputStream) WriteLines(lines func(yield func(string) bool)) error {
	if o.typ == TypeStderr && o.Coalesce {
		var buf bytes.Buffer
		lines(func(line string) bool {
			buf.WriteString(line)
			return true
		})
		_, err := o.Write(buf.Bytes())
		return err
	}

	var writeErr error
	lines(func(line string) bool {
		if _, err := o.Write([]byte(line)); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

// Close sends the empty record marking end-of-stream. It is idempotent:
// only the first call does any I/O, and every call returns that first
// call's result.
func (o *OutputStream) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.closeErr = o.conn.WriteRecord(Record{Type: o.typ, RequestID: o.reqID})
		o.closed = true
	})
	return o.closeErr
}
