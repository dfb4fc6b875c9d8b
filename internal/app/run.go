// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/diagnostics"
	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/frame"
	"github.com/rass-lsp/rass/internal/policy"
	"github.com/rass-lsp/rass/internal/router"
	"github.com/rass-lsp/rass/internal/supervisor"
	"github.com/rass-lsp/rass/pkg/logger"
)

// stdin/stdout are the client transport, fixed for the lifetime of the
// process (spec.md §2 "one LSP client ... over stdio").
var stdioStreams = newStdioStreams

// Run wires Supervisor, Policy, and Router together and drives the proxy
// to completion, returning the Reason and error the caller (cobra's
// RunE, via reasonToError) should translate into an exit code.
func Run(ctx context.Context, flags *Flags, serverCommands [][]string) (router.Reason, error) {
	pol, err := policy.New(flags.LogicClass, 0, len(serverCommands))
	if err != nil {
		return router.ShutdownFatal, &ConfigError{err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	specs := make([]supervisor.Spec, len(serverCommands))
	for i, c := range serverCommands {
		specs[i] = supervisor.Spec{Command: c}
	}
	sup, err := supervisor.Launch(gctx, specs, flags.QuietServer, g)
	if err != nil {
		return router.ShutdownFatal, err
	}
	defer func() {
		if stopErr := sup.GracefulStop(2 * time.Second); stopErr != nil {
			logger.Warnw("errors during server teardown", "error", stopErr)
		}
	}()

	servers := make([]*endpoint.Endpoint, len(sup.Servers()))
	for i, srv := range sup.Servers() {
		servers[i] = srv.Endpoint
		srv.Endpoint.Start(gctx, g)
	}

	clientIn, clientOut, clientCloser := stdioStreams()
	clientTransport := frame.New(clientIn, clientOut, clientCloser)
	clientEP := endpoint.New(endpoint.Client, -1, "client", clientTransport)
	clientEP.Start(gctx, g)

	opts := router.Options{
		PrimaryIndex:      0,
		RequestTimeout:    flags.requestTimeout(),
		InitializeTimeout: flags.initializeTimeout(),
		DropTardy:         flags.DropTardy,
		DelayToClient:     flags.delay(),
	}
	rtr := router.New(clientEP, servers, pol, nil, opts)
	diag := diagnostics.New(flags.diagnosticCoalesce(), flags.diagnosticTimeout(), flags.DropTardy, rtr.EmitDiagnostics, rtr.ServerName)
	rtr.AttachDiagnostics(diag)
	rtr.Start(gctx, g)

	// Surfaces which server exited and with what error the moment it
	// happens, attributing a crash to its server (spec.md §8 scenario 8)
	// independent of the Router's own stdio-EOF detection; returns once
	// gctx ends on an orderly shutdown, since WaitAny then reports -1.
	g.Go(func() error {
		idx, waitErr := sup.WaitAny(gctx)
		if idx >= 0 {
			logger.Warnw("server process exited", "server", sup.Servers()[idx].Name, "error", waitErr)
		}
		return nil
	})

	logger.Infow("rass started", "servers", len(servers), "logic-class", flags.LogicClass)
	reason, runErr := rtr.Run(gctx)
	diag.FlushAll()
	cancel()
	_ = g.Wait()
	return reason, runErr
}
