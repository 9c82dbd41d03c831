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

// Command fcgisrv runs a FastCGI responder/authorizer/filter server
// fronting a compiled-in request handler. It is a thin CLI over
// package server: configuration loading, logger construction, and
// GOMAXPROCS tuning live here so package server stays free of flag
// parsing and global state.
package main

import (
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

func main() {
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
	defer undo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fcgisrv: failed to set GOMAXPROCS: %v\n", err)
	}

	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger(level, encoding string) (*zap.Logger, error) {
	zlevel := zap.NewAtomicLevel()
	if err := zlevel.UnmarshalText([]byte(level)); err != nil {
		zlevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.Config{
		Level:            zlevel,
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}
