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
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"
)

// DefaultMaxMem is the default cumulative-byte threshold past which an
// InputStream lands from memory to a temporary file.
const DefaultMaxMem = 1024

// InputStream is the STDIN or DATA side of a Request: a producer-fed,
// reader-blocking byte stream. The producer (the connection handler's
// reader goroutine) calls Feed as PARAMS/STDIN/DATA records arrive;
// the consumer (the request handler) blocks on any read method until
// Feed has been called with an empty slice, marking EOF. Content
// accumulates in memory until MaxMem bytes have been fed, then "lands"
// to a temporary file so a handful of large uploads can't exhaust
// server memory.
type InputStream struct {
	// MaxMem may be set before the first Feed call to override
	// DefaultMaxMem.
	MaxMem int

	mu          sync.Mutex
	memBuf      bytes.Buffer
	file        *os.File
	landed      bool
	size        int64
	doneFeeding bool
	eof         chan struct{}
	eofOnce     sync.Once

	readerOnce sync.Once
	reader     io.Reader
	br         *bufio.Reader
	brOnce     sync.Once
}

// NewInputStream returns a ready-to-feed InputStream with the default
// memory threshold.
func NewInputStream() *InputStream {
	return &InputStream{eof: make(chan struct{})}
}

func (s *InputStream) maxMem() int {
	if s.MaxMem > 0 {
		return s.MaxMem
	}
	return DefaultMaxMem
}

// Feed appends data to the stream. An empty (or nil) slice marks EOF
// and wakes any blocked reader. Feeding after EOF returns a usage
// error.
func (s *InputStream) Feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doneFeeding {
		return &UsageError{Op: "feed", Err: ErrStreamClosed}
	}
	if len(data) == 0 {
		s.doneFeeding = true
		s.eofOnce.Do(func() { close(s.eof) })
		return nil
	}

	s.size += int64(len(data))
	if !s.landed && s.size > int64(s.maxMem()) {
		if err := s.land(); err != nil {
			return err
		}
	}
	if s.landed {
		_, err := s.file.Write(data)
		return err
	}
	s.memBuf.Write(data)
	return nil
}

// land switches storage from the in-memory buffer to a temporary file.
// Caller must hold mu.
func (s *InputStream) land() error {
	f, err := os.CreateTemp("", "fcgi-stream-")
	if err != nil {
		return err
	}
	if _, err := f.Write(s.memBuf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	s.file = f
	s.landed = true
	s.memBuf.Reset()
	return nil
}

// wait blocks until EOF has been fed and returns the fully materialized
// reader over the content (bytes.Reader for the in-memory fast path, or
// the landed temp file seeked back to its start).
func (s *InputStream) wait() io.Reader {
	<-s.eof
	s.readerOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.landed {
			s.file.Seek(0, io.SeekStart)
			s.reader = s.file
		} else {
			s.reader = bytes.NewReader(s.memBuf.Bytes())
		}
	})
	return s.reader
}

// Read blocks until EOF has been fed, then reads from the start of the
// accumulated content. It implements io.Reader.
func (s *InputStream) Read(p []byte) (int, error) {
	return s.wait().Read(p)
}

// ReadAll blocks until EOF, then returns the full content.
func (s *InputStream) ReadAll() ([]byte, error) {
	return io.ReadAll(s.wait())
}

func (s *InputStream) bufio() *bufio.Reader {
	s.brOnce.Do(func() {
		s.br = bufio.NewReader(s.wait())
	})
	return s.br
}

// ReadLine blocks until EOF, then returns the next newline-terminated
// line (newline included). The final line of content that does not end
// in '\n' is returned along with io.EOF.
func (s *InputStream) ReadLine() (string, error) {
	return s.bufio().ReadString('\n')
}

// ReadLines blocks until EOF, then returns every line, in order.
func (s *InputStream) ReadLines() ([]string, error) {
	var lines []string
	for {
		line, err := s.ReadLine()
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			if err == io.EOF {
				return lines, nil
			}
			return lines, err
		}
	}
}

// Lines returns a range-over-func iterator of the stream's lines,
// blocking until EOF on first use.
func (s *InputStream) Lines() func(yield func(string) bool) {
	return func(yield func(string) bool) {
		for {
			line, err := s.ReadLine()
			if line != "" {
				if !yield(line) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

// Close releases the temporary file backing a landed stream, if any.
// It is idempotent and safe to call even if the stream never landed.
func (s *InputStream) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	name := f.Name()
	err := f.Close()
	_ = os.Remove(name)
	return err
}
