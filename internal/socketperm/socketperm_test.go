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

package socketperm

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	path, mode, err := Split("/run/fcgi.sock")
	require.NoError(t, err)
	assert.Equal(t, "/run/fcgi.sock", path)
	assert.Equal(t, DefaultMode, mode)

	path, mode, err = Split("/run/fcgi.sock|0666")
	require.NoError(t, err)
	assert.Equal(t, "/run/fcgi.sock", path)
	assert.Equal(t, fs.FileMode(0o666), mode)

	_, _, err = Split("/run/fcgi.sock|bogus")
	assert.Error(t, err)

	// Dropping the owner's write bit would make the socket unusable.
	_, _, err = Split("/run/fcgi.sock|0444")
	assert.Error(t, err)
}

func TestWithModeCreatesFileWithExactMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "made-under-mode")
	err := WithMode(0o660, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o777)
		if err != nil {
			return err
		}
		return f.Close()
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o660), info.Mode().Perm())
}
