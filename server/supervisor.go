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
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WorkerEnv is set in a worker child's environment to its 1-based
// worker index. main() checks for it to decide whether to run as a
// supervisor (spawn a pool of workers) or as a worker (call
// Server.Serve directly). Go cannot safely fork() once goroutines and
// the runtime's background threads exist, so fan-out is done by
// re-executing the current binary with this marker set.
const WorkerEnv = "FCGI_WORKER_INDEX"

// SupervisorOptions configures a multi-process worker fan-out.
type SupervisorOptions struct {
	NumWorkers    int
	ShutdownGrace time.Duration // delay between SIGHUP and SIGKILL escalation
	Logger        *zap.Logger

	// ListenerFile is the supervisor's already-bound listening socket,
	// duplicated (see ListenerFile) so it can be inherited by every
	// worker as fd 3 via exec.Cmd.ExtraFiles. All workers therefore
	// accept off the single socket the supervisor bound, the same
	// sharing a classic os.fork()-based pre-fork server gets for free;
	// Go instead re-execs the binary and hands the descriptor down
	// explicitly, since it cannot fork safely once goroutines exist.
	ListenerFile *os.File

	// SocketCleanup, if non-nil, is called exactly once after every
	// worker has exited, to remove a local-socket file. Only the
	// supervisor (parent) process ever calls it.
	SocketCleanup func() error
}

// worker tracks one child process and the goroutine reaping it.
type worker struct {
	idx  int
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor runs NumWorkers copies of the current executable (each
// re-launched with WorkerEnv set to its index) and restarts any that
// exit unexpectedly, mirroring _watch_workers/_start_workers. Run
// blocks until ctx is canceled, at which point it escalates
// SIGHUP-then-SIGKILL against the remaining children (mirroring
// _kill_workers/_killing_sequence) and removes the socket file once,
// from this process only.
type Supervisor struct {
	opts SupervisorOptions

	mu       sync.Mutex
	workers  map[int]*worker
	shutdown bool
	exited   chan int
}

// NewSupervisor returns a Supervisor ready to Run.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 2 * time.Second
	}
	return &Supervisor{
		opts:    opts,
		workers: make(map[int]*worker),
		exited:  make(chan int),
	}
}

// Run starts the worker pool and watches it until ctx is canceled.
func (sv *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	for i := 1; i <= sv.opts.NumWorkers; i++ {
		if err := sv.startWorker(i); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			sv.runShutdown()
			return nil
		case idx := <-sv.exited:
			sv.mu.Lock()
			alreadyDown := sv.shutdown
			sv.mu.Unlock()
			if alreadyDown {
				continue
			}
			sv.log().Info("worker exited, respawning", zap.Int("worker", idx))
			if err := sv.startWorker(idx); err != nil {
				sv.log().Error("failed to respawn worker", zap.Int("worker", idx), zap.Error(err))
			}
		}
	}
}

func (sv *Supervisor) log() *zap.Logger {
	if sv.opts.Logger != nil {
		return sv.opts.Logger
	}
	return zap.NewNop()
}

func (sv *Supervisor) startWorker(idx int) error {
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), WorkerEnv+"="+strconv.Itoa(idx))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if sv.opts.ListenerFile != nil {
		cmd.ExtraFiles = []*os.File{sv.opts.ListenerFile}
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	w := &worker{idx: idx, cmd: cmd, done: make(chan struct{})}

	sv.mu.Lock()
	sv.workers[idx] = w
	sv.mu.Unlock()

	go func() {
		cmd.Wait() //nolint:errcheck
		close(w.done)
		sv.mu.Lock()
		if sv.workers[idx] == w {
			delete(sv.workers, idx)
		}
		down := sv.shutdown
		sv.mu.Unlock()
		if !down {
			sv.exited <- idx
		}
	}()

	sv.log().Debug("started worker", zap.Int("worker", idx), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// runShutdown implements _kill_workers/_killing_sequence: signal every
// live worker SIGHUP, wait up to ShutdownGrace for them to exit on
// their own, then SIGKILL whatever remains. The socket file, if any,
// is unlinked exactly once, after every worker is gone.
func (sv *Supervisor) runShutdown() {
	sv.mu.Lock()
	sv.shutdown = true
	workers := make([]*worker, 0, len(sv.workers))
	for _, w := range sv.workers {
		workers = append(workers, w)
	}
	sv.mu.Unlock()

	signalAll(workers, syscall.SIGHUP, sv.log())
	if waitWithTimeout(workers, sv.opts.ShutdownGrace) {
		signalAll(workers, syscall.SIGKILL, sv.log())
		waitWithTimeout(workers, 5*time.Second)
	}

	if sv.opts.SocketCleanup != nil {
		if err := sv.opts.SocketCleanup(); err != nil {
			sv.log().Warn("socket cleanup failed", zap.Error(err))
		}
	}
}

func signalAll(workers []*worker, sig syscall.Signal, logger *zap.Logger) {
	for _, w := range workers {
		if w.cmd.Process == nil {
			continue
		}
		if err := w.cmd.Process.Signal(sig); err != nil {
			logger.Debug("signal worker failed", zap.Int("worker", w.idx), zap.Error(err))
		}
	}
}

// waitWithTimeout blocks until every worker's done channel closes or
// grace elapses, whichever first; it reports whether any worker was
// still alive when it returned.
func waitWithTimeout(workers []*worker, grace time.Duration) (timedOut bool) {
	deadline := time.After(grace)
	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline:
			return true
		}
	}
	return false
}
