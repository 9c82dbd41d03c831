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
	"io"
	"net"
	"sync"
)

// rwc is the minimal surface Conn needs from the transport: a duplex
// byte stream that can be closed and, optionally, half-closed for
// writing.
type rwc interface {
	io.Reader
	io.Writer
	io.Closer
}

type writeCloser interface {
	CloseWrite() error
}

// Conn is a framed FastCGI connection shared by one reader goroutine
// and any number of concurrent request-handler goroutines writing
// response records. All writers MUST go through WriteRecord, which
// holds writeMu for the duration of one record so that a record's
// bytes are always contiguous on the wire even when other requests'
// records are being emitted concurrently.
type Conn struct {
	rw      rwc
	reader  *bufReader
	writeMu sync.Mutex
	hdrBuf  [HeaderLen]byte
}

// NewConn wraps rw (typically a net.Conn, but any ReadWriteCloser
// works, which is what lets tests drive the handler over net.Pipe)
// with record framing. bufferSize controls the buffered reader's read
// granularity.
func NewConn(rw rwc, bufferSize int) *Conn {
	return &Conn{
		rw:     rw,
		reader: newBufReader(rw, bufferSize),
	}
}

// WriteRecord atomically serializes and sends one record. Content
// longer than MaxContentLen is fragmented into a sequence of records
// for stream types (STDIN, STDOUT, STDERR, DATA); for any other type
// it is ErrValue.
func (c *Conn) WriteRecord(r Record) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(r.Content) <= MaxContentLen {
		return c.writeOneLocked(r.Type, r.RequestID, r.Content)
	}
	if !r.Type.isStreamType() {
		return ErrValue
	}
	content := r.Content
	for len(content) > 0 {
		n := maxFragment
		if n > len(content) {
			n = len(content)
		}
		if err := c.writeOneLocked(r.Type, r.RequestID, content[:n]); err != nil {
			return err
		}
		content = content[n:]
	}
	return nil
}

// writeOneLocked writes a single physical record. Caller must hold
// writeMu. content must already be <= MaxContentLen.
func (c *Conn) writeOneLocked(t RecordType, id uint16, content []byte) error {
	h := header{
		Version:       Version1,
		Type:          uint8(t),
		RequestID:     id,
		ContentLength: uint16(len(content)),
		PaddingLength: paddingFor(len(content)),
	}
	h.marshal(c.hdrBuf[:])
	if _, err := c.rw.Write(c.hdrBuf[:]); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := c.rw.Write(content); err != nil {
			return err
		}
	}
	if h.PaddingLength > 0 {
		if _, err := c.rw.Write(zeroPad[:h.PaddingLength]); err != nil {
			return err
		}
	}
	return nil
}

var zeroPad [7]byte

// ReadRecord reads and returns the next record. It returns io.EOF if
// the peer closed the connection cleanly between records, or
// ErrProtocol (wrapping a more specific error) for a bad version or a
// truncated frame.
func (c *Conn) ReadRecord() (Record, error) {
	raw, err := c.reader.readExact(HeaderLen)
	if err != nil {
		return Record{}, err
	}
	h := unmarshalHeader(raw)
	if h.Version != Version1 {
		return Record{}, ErrProtocol
	}

	var content []byte
	if h.ContentLength > 0 {
		content, err = c.reader.readExact(int(h.ContentLength))
		if err != nil {
			return Record{}, truncated(err, int(h.ContentLength))
		}
		// readExact hands back a slice aliasing the internal buffer;
		// copy it out since callers may retain it past the next read.
		content = append([]byte(nil), content...)
	}
	if h.PaddingLength > 0 {
		if _, err := c.reader.readExact(int(h.PaddingLength)); err != nil {
			return Record{}, truncated(err, int(h.PaddingLength))
		}
	}

	return Record{
		Type:      RecordType(h.Type),
		RequestID: h.RequestID,
		Content:   content,
	}, nil
}

// truncated converts a clean EOF seen after a record's header has
// already been consumed into a truncation error: a peer that closes
// mid-record is violating the protocol, not finishing cleanly.
func truncated(err error, expected int) error {
	if errors.Is(err, io.EOF) {
		return &PartialReadError{Expected: expected, Got: 0}
	}
	return err
}

// Close closes the underlying transport. Further I/O fails.
func (c *Conn) Close() error {
	return c.rw.Close()
}

// DoneWriting half-closes the write side of the underlying transport,
// if it supports it (net.TCPConn and net.UnixConn both do). It exists
// so test clients can signal "no more records" without fully closing
// the socket, letting the server's reader observe a clean EOF and
// finish its read loop while the server still writes its response.
func (c *Conn) DoneWriting() error {
	if wc, ok := c.rw.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

var (
	_ writeCloser = (*net.TCPConn)(nil)
	_ writeCloser = (*net.UnixConn)(nil)
)
