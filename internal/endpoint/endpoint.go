// SPDX-License-Identifier: Apache-2.0

// Package endpoint pairs a frame.Transport with an identity (the client,
// or one of the N servers) and an inbound queue, per spec.md §3/§4.2.
package endpoint

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/frame"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/pkg/logger"
)

// Kind distinguishes the unique client endpoint from the N server
// endpoints.
type Kind int

const (
	Client Kind = iota
	Server
)

func (k Kind) String() string {
	if k == Client {
		return "client"
	}
	return "server"
}

// Inbound is one message read off an Endpoint's transport, or the
// terminal error that ended the read loop (io.EOF on clean close, or a
// *frame.FramingError).
type Inbound struct {
	Message *message.Envelope
	Err     error
}

// Endpoint is `{ kind, name, transport, inbound, alive }` from spec.md §3.
// Index is -1 for the client and the server's position (0 = primary)
// otherwise.
type Endpoint struct {
	Kind  Kind
	Index int // -1 for the client
	// Name is learned from serverInfo.name once available; until then it
	// is the positional name (spec.md §3).
	name atomic.Pointer[string]

	transport *frame.Transport
	Inbound   chan Inbound

	alive atomic.Bool
}

// New creates an Endpoint around an already-open transport. The caller
// must call Start to begin draining it.
func New(kind Kind, index int, name string, t *frame.Transport) *Endpoint {
	e := &Endpoint{
		Kind:      kind,
		Index:     index,
		transport: t,
		Inbound:   make(chan Inbound, 64),
	}
	e.alive.Store(true)
	e.name.Store(&name)
	return e
}

// Name returns the endpoint's current display name.
func (e *Endpoint) Name() string {
	return *e.name.Load()
}

// SetName updates the endpoint's display name (e.g. once serverInfo.name
// is known).
func (e *Endpoint) SetName(name string) {
	e.name.Store(&name)
}

// Alive reports whether the endpoint's transport is still usable.
func (e *Endpoint) Alive() bool {
	return e.alive.Load()
}

// markDead marks the endpoint dead; subsequent routing skips it
// (spec.md §4.3 "Subsequent routes skip the dead server").
func (e *Endpoint) markDead() {
	e.alive.Store(false)
}

// Start launches the goroutine that drains the transport into Inbound, in
// wire order, per spec.md §4.2's ordering guarantee. It registers the
// drain loop on the given errgroup so a caller waiting on the group also
// waits for the loop to end. The terminal read error (io.EOF or a
// FramingError) is delivered as the last Inbound value, and the goroutine
// returns nil rather than surfacing it as a group-fatal error: the Router
// is the one place that decides whether a particular endpoint's failure
// is fatal.
func (e *Endpoint) Start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		defer close(e.Inbound)
		for {
			msg, err := e.transport.ReadMessage()
			if err != nil {
				e.markDead()
				select {
				case e.Inbound <- Inbound{Err: err}:
				case <-ctx.Done():
				}
				return nil
			}
			select {
			case e.Inbound <- Inbound{Message: msg}:
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// Send writes a message to the endpoint's transport. Writes are
// serialized by the underlying transport, so a slow peer blocks the
// caller (spec.md §4.2 backpressure) but never interleaves two frames.
func (e *Endpoint) Send(msg *message.Envelope) error {
	if !e.Alive() {
		return nil
	}
	if err := e.transport.WriteMessage(msg); err != nil {
		e.markDead()
		logger.Warnw("failed to write to endpoint, marking dead",
			"endpoint", e.Name(), "kind", e.Kind.String(), "error", err)
		return err
	}
	return nil
}

// Close closes the underlying transport.
func (e *Endpoint) Close() error {
	e.markDead()
	return e.transport.Close()
}
