// SPDX-License-Identifier: Apache-2.0

// Package supervisor launches and tears down the N LSP server
// subprocesses (spec.md §2 "N Server subprocesses"), wiring each one's
// stdio to an internal/endpoint.Endpoint and relaying its stderr, per
// original_source/dada.py's launch_server/forward_server_stderr and
// the teacher's pkg/lifecycle spawn/stop shape.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/frame"
	"github.com/rass-lsp/rass/pkg/logger"
)

// Spec describes one server subprocess to launch.
type Spec struct {
	Command []string
}

// Server is a launched subprocess paired with its proxy-facing endpoint.
type Server struct {
	Index       int
	Name        string
	Endpoint    *endpoint.Endpoint
	correlation string

	cmd *exec.Cmd
	// exited closes once cmd.Wait has returned; exitErr is only valid to
	// read after a receive from (or close observation of) exited. A
	// single goroutine started in launchOne owns the one call to
	// cmd.Wait — exec.Cmd forbids calling it more than once — so Wait,
	// GracefulStop, and WaitAny all read the cached result instead of
	// calling cmd.Wait themselves.
	exited  chan struct{}
	exitErr error
}

// Supervisor owns the launched subprocesses for the lifetime of one rass
// run.
type Supervisor struct {
	servers []*Server
}

// Launch starts every server in specs in order. If any spawn fails, the
// already-started servers are killed and an error is returned — spec.md
// §4.3 treats spawn failure as fatal, so there is nothing to retry.
func Launch(ctx context.Context, specs []Spec, quietServer bool, g *errgroup.Group) (*Supervisor, error) {
	sup := &Supervisor{}
	for i, spec := range specs {
		srv, err := launchOne(ctx, spec, i, g, quietServer)
		if err != nil {
			sup.KillAll()
			return nil, fmt.Errorf("launching server %d (%v): %w", i, spec.Command, err)
		}
		sup.servers = append(sup.servers, srv)
	}
	return sup, nil
}

// Servers returns the launched servers in index order (index 0 is
// primary, per spec.md §3).
func (s *Supervisor) Servers() []*Server {
	return s.servers
}

func launchOne(ctx context.Context, spec Spec, index int, g *errgroup.Group, quietServer bool) (*Server, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty server command")
	}

	name := serverBaseName(spec.Command[0], index)
	correlation := uuid.NewString()[:8]

	// #nosec G204 -- the server command is operator-supplied on the CLI, the same way a shell would run it.
	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Infow("launching server", "server", name, "correlation", correlation, "command", spec.Command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	transport := frame.New(stdout, stdin, stdin)
	ep := endpoint.New(endpoint.Server, index, name, transport)

	srv := &Server{Index: index, Name: name, Endpoint: ep, correlation: correlation, cmd: cmd, exited: make(chan struct{})}
	go func() {
		srv.exitErr = cmd.Wait()
		close(srv.exited)
	}()

	if !quietServer {
		g.Go(func() error {
			relayStderr(srv, stderr)
			return nil
		})
	} else {
		g.Go(func() error {
			_, _ = io.Copy(io.Discard, stderr)
			return nil
		})
	}

	return srv, nil
}

// relayStderr forwards a server's stderr line by line to our own stderr,
// tagged with the server's current display name (spec.md §4.3
// "stderr relay"; original_source/dada.py forward_server_stderr).
func relayStderr(srv *Server, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Infow(scanner.Text(), "server", srv.Endpoint.Name(), "correlation", srv.correlation)
	}
	if err := scanner.Err(); err != nil {
		logger.Warnw("stderr relay ended with error", "server", srv.Endpoint.Name(), "error", err)
	}
}

func serverBaseName(command string, index int) string {
	base := filepath.Base(command)
	if index == 0 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, index)
}

// Wait blocks until every subprocess has exited and returns the combined
// exit errors, if any.
func (s *Supervisor) Wait() error {
	var combined error
	for _, srv := range s.servers {
		<-srv.exited
		combined = multierr.Append(combined, srv.exitErr)
	}
	return combined
}

// WaitAny blocks until any one subprocess exits, or ctx is done, and
// returns that server's index and exit error — used by internal/app to
// attribute a post-init crash to the specific server that caused it
// (spec.md §8 scenario 8: "Proxy exits with code 1; stderr contains a
// message attributing the failure to s2"). Returns (-1, ctx.Err()) if
// ctx ends first, which is the expected outcome of an orderly shutdown.
func (s *Supervisor) WaitAny(ctx context.Context) (int, error) {
	type result struct {
		idx int
		err error
	}
	ch := make(chan result, len(s.servers))
	for i, srv := range s.servers {
		i, srv := i, srv
		go func() {
			select {
			case <-srv.exited:
			case <-ctx.Done():
				return
			}
			select {
			case ch <- result{i, srv.exitErr}:
			case <-ctx.Done():
			}
		}()
	}
	select {
	case r := <-ch:
		return r.idx, r.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// GracefulStop gives every still-running subprocess grace to exit after
// the Router has already sent it shutdown/exit, then kills stragglers.
// spec.md §4.5 names no specific grace period; the teacher's process
// lifecycle does not wait indefinitely on a single managed process
// either, so a short fixed grace period is used here.
func (s *Supervisor) GracefulStop(grace time.Duration) error {
	var combined error
	exited := make(chan struct{}, len(s.servers))
	for _, srv := range s.servers {
		srv := srv
		go func() {
			<-srv.exited
			exited <- struct{}{}
		}()
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	remaining := len(s.servers)
	for remaining > 0 {
		select {
		case <-exited:
			remaining--
		case <-deadline.C:
			combined = multierr.Append(combined, s.KillAll())
			return combined
		}
	}
	return combined
}

// KillAll force-kills every subprocess that is still running.
func (s *Supervisor) KillAll() error {
	var combined error
	for _, srv := range s.servers {
		if srv.cmd.Process == nil {
			continue
		}
		if err := srv.cmd.Process.Kill(); err != nil && !isProcessDone(err) {
			combined = multierr.Append(combined, fmt.Errorf("killing %s: %w", srv.Endpoint.Name(), err))
		}
	}
	return combined
}

func isProcessDone(err error) bool {
	return err == os.ErrProcessDone
}
