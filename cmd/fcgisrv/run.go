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

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastcgi-go/server/config"
	"github.com/fastcgi-go/server/examples/echo"
	"github.com/fastcgi-go/server/fcgi"
	"github.com/fastcgi-go/server/server"
)

func runCommand() *cobra.Command {
	var configPath string
	var listen string
	var role string
	var maxConns int
	var numWorkers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the FastCGI server in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if role != "" {
				cfg.Role = role
			}
			if maxConns > 0 {
				cfg.MaxConns = maxConns
			}
			if numWorkers > 0 {
				cfg.NumWorkers = numWorkers
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a TOML configuration file")
	flags.StringVar(&listen, "listen", "", "listen address: host:port or a local-socket path")
	flags.StringVar(&role, "role", "", "server role: responder, authorizer, or filter")
	flags.IntVar(&maxConns, "max-conns", 0, "maximum concurrent connections")
	flags.IntVar(&numWorkers, "workers", 0, "number of worker processes")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := buildLogger(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return fmt.Errorf("fcgisrv: building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	role, err := parseRole(cfg.Role)
	if err != nil {
		return err
	}

	addr, err := server.ParseAddress(cfg.Listen)
	if err != nil {
		return err
	}

	// A worker-pool child re-execs this same binary with WorkerEnv set
	// and its listening socket inherited as fd 3; it serves directly
	// off that instead of binding its own.
	if idx := os.Getenv(server.WorkerEnv); idx != "" {
		logger = logger.With(zap.String("worker", idx))
		ln, err := server.FileListener()
		if err != nil {
			return err
		}
		return serve(ctx, ln, role, cfg, logger)
	}

	if cfg.NumWorkers <= 1 {
		ln, cleanup, err := server.Listen(ctx, addr, logger)
		if err != nil {
			return err
		}
		defer cleanup() //nolint:errcheck
		logger.Info("listening",
			zap.String("addr", addr.String()),
			zap.String("role", role.String()),
			zap.Int("backlog", cfg.EffectiveBacklog()))
		return serve(ctx, ln, role, cfg, logger)
	}

	ln, cleanup, err := server.Listen(ctx, addr, logger)
	if err != nil {
		return err
	}
	defer ln.Close()

	lnFile, err := server.ListenerFile(ln)
	if err != nil {
		return err
	}
	defer lnFile.Close()

	sv := server.NewSupervisor(server.SupervisorOptions{
		NumWorkers:    cfg.NumWorkers,
		ShutdownGrace: cfg.ShutdownGrace(),
		Logger:        logger,
		ListenerFile:  lnFile,
		SocketCleanup: cleanup,
	})
	logger.Info("starting supervisor", zap.Int("workers", cfg.NumWorkers), zap.String("listen", addr.String()))
	return sv.Run(ctx)
}

func serve(ctx context.Context, ln net.Listener, role fcgi.Role, cfg config.Config, logger *zap.Logger) error {
	// The supervisor stops its workers with SIGHUP, and an operator
	// stops a foreground single-process server with SIGINT/SIGTERM;
	// all three drain the accept loop the same way.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	srv := server.New(ln, server.Options{
		Role:       role,
		Handler:    echo.Handler,
		MaxConns:   cfg.MaxConns,
		BufferSize: cfg.BufferSize,
		MaxMem:     cfg.MaxMem,
		Logger:     logger,
	})
	return srv.Serve(ctx)
}

func parseRole(name string) (fcgi.Role, error) {
	switch name {
	case "", "responder":
		return fcgi.RoleResponder, nil
	case "authorizer":
		return fcgi.RoleAuthorizer, nil
	case "filter":
		return fcgi.RoleFilter, nil
	default:
		return 0, fmt.Errorf("fcgisrv: unknown role %q", name)
	}
}
