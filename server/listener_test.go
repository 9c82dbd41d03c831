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
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "127.0.0.1:9000", want: Address{Network: "tcp", Host: "127.0.0.1:9000"}},
		{in: ":9000", want: Address{Network: "tcp", Host: ":9000"}},
		{in: "/run/fcgi.sock", want: Address{Network: "unix", Host: "/run/fcgi.sock", Mode: 0o200}},
		{in: "/run/fcgi.sock|0660", want: Address{Network: "unix", Host: "/run/fcgi.sock", Mode: 0o660}},
		{in: "unix:/run/fcgi.sock", want: Address{Network: "unix", Host: "/run/fcgi.sock", Mode: 0o200}},
		{in: "./fcgi.sock", want: Address{Network: "unix", Host: "./fcgi.sock", Mode: 0o200}},
		{in: "not-an-address", wantErr: true},
		{in: "/run/fcgi.sock|044", wantErr: true}, // owner loses write permission
	} {
		got, err := ParseAddress(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestListenUnixReplacesStaleSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	ln, cleanup, err := Listen(context.Background(), Address{Network: "unix", Host: path, Mode: 0o660}, nil)
	require.NoError(t, err)
	defer ln.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, fs.ModeSocket, info.Mode()&fs.ModeSocket)
	require.Equal(t, fs.FileMode(0o660), info.Mode().Perm())

	require.NoError(t, cleanup())
	_, err = os.Stat(path)
	require.ErrorIs(t, err, fs.ErrNotExist)
}
