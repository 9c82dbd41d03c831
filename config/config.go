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

// Package config loads fcgisrv's configuration from an optional TOML
// file and exposes the defaults every field falls back to when the
// file omits them or none is given.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of options the server recognizes.
type Config struct {
	// Listen is a TCP "host:port" or a local-socket filesystem path
	// (optionally suffixed "|mode"; see internal/socketperm).
	Listen string `toml:"listen"`

	// Role is one of "responder", "authorizer", "filter".
	Role string `toml:"role"`

	MaxConns   int `toml:"max_conns"`
	NumWorkers int `toml:"num_workers"`
	BufferSize int `toml:"buffer_size"`
	Backlog    int `toml:"backlog"`
	MaxMem     int `toml:"max_mem"`

	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`

	Log LogConfig `toml:"log"`
}

// LogConfig controls the zap logger cmd/fcgisrv builds at startup.
type LogConfig struct {
	Level    string `toml:"level"`    // debug, info, warn, error
	Encoding string `toml:"encoding"` // json or console
}

// Default returns the configuration used when no file is given and no
// flag overrides a field: a TCP listener on localhost, RESPONDER role,
// one worker process, and generous but bounded concurrency.
func Default() Config {
	return Config{
		Listen:               "127.0.0.1:9000",
		Role:                 "responder",
		MaxConns:             1024,
		NumWorkers:           1,
		BufferSize:           4096,
		Backlog:              0, // 0 means "use MaxConns", resolved by EffectiveBacklog
		MaxMem:               1024,
		ShutdownGraceSeconds: 2,
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load starts from Default and overlays any fields present in the TOML
// file at path. An empty path returns the defaults; a non-empty path
// that cannot be read or decoded is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return cfg, nil
}

// ShutdownGrace returns ShutdownGraceSeconds as a time.Duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// EffectiveBacklog returns Backlog, defaulting to MaxConns when unset.
// net.ListenConfig has no portable knob for the kernel listen(2)
// backlog, so this value is exposed for operators and logged at
// startup rather than passed to the syscall; raising it in practice
// means raising net.core.somaxconn.
func (c Config) EffectiveBacklog() int {
	if c.Backlog > 0 {
		return c.Backlog
	}
	return c.MaxConns
}
