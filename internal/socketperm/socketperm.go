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

// Package socketperm parses the "path|mode" local-socket address form
// a FastCGI upstream (and caddy's own admin/unix listeners) uses to
// carry a filesystem permission alongside a bind path, and applies
// that mode atomically at bind time.
package socketperm

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"syscall"
)

// DefaultMode is applied when an address carries no explicit mode
// suffix. It sets only the owner's write bit.
const DefaultMode fs.FileMode = 0o200

// Split takes a local-socket address in the "path|bits" form (e.g.
// /run/fcgi.sock|0660) and separates it into a bind path and a file
// mode. Colons cannot be the separator because socket paths may
// contain a Windows drive letter. A missing "|bits" suffix yields
// DefaultMode. The owner must retain write permission; otherwise the
// server could never be handed requests by its own upstream.
func Split(addr string) (path string, mode fs.FileMode, err error) {
	parts := strings.SplitN(addr, "|", 2)
	if len(parts) == 1 {
		return addr, DefaultMode, nil
	}

	bits, err := strconv.ParseUint(parts[1], 8, 32)
	if err != nil {
		return "", 0, fmt.Errorf("socketperm: invalid octal mode in %q: %w", addr, err)
	}
	mode = fs.FileMode(bits)
	if mode&0o200 == 0 {
		return "", 0, fmt.Errorf("socketperm: owner of %q needs write permission, got mode %v", addr, mode)
	}
	return parts[0], mode, nil
}

// WithMode runs bind (expected to create a unix-domain socket file,
// e.g. via net.ListenUnix) with the process umask set to the
// complement of mode, then restores the prior umask before returning.
// bind(2) creates the socket's directory entry with mode &^ umask; this
// is the only way to hand the socket its final permission bits
// atomically, without a window where a plain os.Chmod afterward would
// leave it briefly too permissive (or not permissive enough) for
// whoever connects first.
func WithMode(mode fs.FileMode, bind func() error) error {
	old := syscall.Umask(int(^mode & 0o777))
	defer syscall.Umask(old)
	return bind()
}
