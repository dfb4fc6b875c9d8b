// SPDX-License-Identifier: Apache-2.0

// Package router implements the Router from spec.md §4.3: the
// multiplexer core that owns every endpoint, tracks in-flight requests,
// translates ids, and dispatches and aggregates traffic under Policy's
// direction. It runs as a single logical actor (spec.md §5): endpoint
// readers and deadline timers communicate with it only by enqueuing
// events onto one channel, so the Router's own state (pending tables,
// id counters) needs no locking.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/diagnostics"
	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/internal/policy"
	"github.com/rass-lsp/rass/pkg/logger"
)

// Reason classifies how Run returned, so the caller (internal/app) can
// pick an exit code per spec.md §6 without re-deriving it from an error
// string.
type Reason int

const (
	// ShutdownClean means the client closed its transport after sending
	// exit, or otherwise asked us to stop in an expected way.
	ShutdownClean Reason = iota
	// ShutdownClientGone means the client transport ended unexpectedly
	// (spec.md §6 exit code 1: "client gone unexpectedly").
	ShutdownClientGone
	// ShutdownFatal means a server's transport ended (EOF or framing
	// error) while the client had not sent exit (spec.md §6 exit code 1).
	ShutdownFatal
)

// Options configures deadlines and toggles the Router doesn't hardcode,
// all sourced from CLI flags (spec.md §6).
type Options struct {
	PrimaryIndex      int
	RequestTimeout    time.Duration // --request-timeout-ms, default 2000ms
	InitializeTimeout time.Duration // --initialize-timeout-ms, default 2500ms
	DropTardy         bool          // --drop-tardy
	DelayToClient     time.Duration // --delay-ms
}

// Router is the multiplexer core.
type Router struct {
	client  *endpoint.Endpoint
	servers []*endpoint.Endpoint
	pol     policy.Policy
	diag    *diagnostics.Engine
	ids     idSpace
	opts    Options

	events chan event
	delay  chan delayedSend

	pending pendingTables

	clientExiting bool
	fatalErr      error
}

type eventKind int

const (
	eventClientInbound eventKind = iota
	eventServerInbound
	eventDeadline
)

type event struct {
	kind        eventKind
	serverIndex int
	inbound     endpoint.Inbound
	timeoutKey  string
}

type delayedSend struct {
	at   time.Time
	send func()
}

// New builds a Router. Caller must call Start to launch the endpoint
// pump goroutines before Run.
func New(client *endpoint.Endpoint, servers []*endpoint.Endpoint, pol policy.Policy, diag *diagnostics.Engine, opts Options) *Router {
	return &Router{
		client:  client,
		servers: servers,
		pol:     pol,
		diag:    diag,
		opts:    opts,
		events:  make(chan event, 256),
		delay:   make(chan delayedSend, 256),
		pending: newPendingTables(),
	}
}

// AttachDiagnostics wires the diagnostics Engine after construction,
// breaking the constructor cycle: the Engine's Emitter needs a way to
// reach the client that only the Router provides (EmitDiagnostics), and
// the Router needs the Engine to hand off publishDiagnostics. Call
// before Run.
func (r *Router) AttachDiagnostics(d *diagnostics.Engine) {
	r.diag = d
}

// EmitDiagnostics is the diagnostics.Emitter the caller should pass when
// constructing the Engine attached via AttachDiagnostics.
func (r *Router) EmitDiagnostics(n *message.Envelope) {
	r.sendToClient(n)
}

// ServerName is the diagnostics.ServerNamer the caller should pass when
// constructing the Engine attached via AttachDiagnostics.
func (r *Router) ServerName(serverIndex int) string {
	return r.servers[serverIndex].Name()
}

// Start launches the fan-in pumps that forward endpoint inbound messages
// onto the Router's single event channel, plus the outbound delay
// worker that sendToClient feeds when --delay-ms is set (the worker is
// started either way). Registers all of them on g so the caller
// can wait for clean teardown.
func (r *Router) Start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		for in := range r.client.Inbound {
			select {
			case r.events <- event{kind: eventClientInbound, serverIndex: -1, inbound: in}:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for i, srv := range r.servers {
		i, srv := i, srv
		g.Go(func() error {
			for in := range srv.Inbound {
				select {
				case r.events <- event{kind: eventServerInbound, serverIndex: i, inbound: in}:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case d := <-r.delay:
				if wait := time.Until(d.at); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return nil
					}
				}
				d.send()
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// Run drives the event loop until shutdown or a fatal condition.
func (r *Router) Run(ctx context.Context) (Reason, error) {
	for {
		select {
		case ev := <-r.events:
			done, reason := r.handle(ev)
			if done {
				return reason, r.fatalErr
			}
		case <-ctx.Done():
			return ShutdownClientGone, ctx.Err()
		}
	}
}

func (r *Router) handle(ev event) (done bool, reason Reason) {
	switch ev.kind {
	case eventDeadline:
		r.onDeadline(ev.timeoutKey)
	case eventClientInbound:
		return r.onClientInbound(ev.inbound)
	case eventServerInbound:
		return r.onServerInbound(ev.serverIndex, ev.inbound)
	}
	return false, ShutdownClean
}

func (r *Router) scheduleDeadline(key string, after time.Duration) *time.Timer {
	return time.AfterFunc(after, func() {
		r.events <- event{kind: eventDeadline, timeoutKey: key}
	})
}

func (r *Router) onDeadline(key string) {
	r.completeAggregation(key, true)
}

func (r *Router) sendToClient(msg *message.Envelope) {
	if r.opts.DelayToClient <= 0 {
		if err := r.client.Send(msg); err != nil {
			logger.Warnw("failed writing to client", "error", err)
		}
		return
	}
	r.delay <- delayedSend{
		at: time.Now().Add(r.opts.DelayToClient),
		send: func() {
			if err := r.client.Send(msg); err != nil {
				logger.Warnw("failed writing to client", "error", err)
			}
		},
	}
}

func (r *Router) replyResult(clientID []byte, result []byte) {
	r.sendToClient(message.NewResult(message.IDFromRaw(clientID), result))
}

func (r *Router) replyError(clientID []byte, code int, msg string) {
	r.sendToClient(message.NewError(message.IDFromRaw(clientID), code, msg, nil))
}

func (r *Router) replyRPCError(clientID []byte, rpcErr *message.RPCError) {
	r.sendToClient(message.NewError(message.IDFromRaw(clientID), rpcErr.Code, rpcErr.Message, rpcErr.Data))
}

// fatal retires the event loop with a fatal condition (exit code 1). It
// is reached when a server's transport ends outside an orderly client
// exit, whether before or after initialize (see onServerDead).
func (r *Router) fatal(format string, args ...any) (bool, Reason) {
	r.fatalErr = fmt.Errorf(format, args...)
	logger.Errorw("fatal error, shutting down", "error", r.fatalErr)
	return true, ShutdownFatal
}

var errClientClosed = errors.New("client transport closed")
