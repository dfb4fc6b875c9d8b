// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/diagnostics"
	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/frame"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/internal/policy"
)

// harness wires a Router to fake in-memory client/server peers so tests
// can play either side of the wire, mirroring the black-box scenarios in
// spec.md §8.
type harness struct {
	t       *testing.T
	router  *Router
	client  *frame.Transport
	servers []*frame.Transport
	// serverFeeds closes the pipe the router reads each server from, so a
	// test can make a server's stdout end the way a crashed process's does.
	serverFeeds []io.Closer

	cancel context.CancelFunc
	done   chan struct{}
	reason Reason
	runErr error
}

func newPipePair() (routerSide, testSide *frame.Transport, testFeed io.Closer) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	routerSide = frame.New(r1, w2, r1)
	testSide = frame.New(r2, w1, r2)
	return routerSide, testSide, w1
}

func newHarness(t *testing.T, nServers int, pol policy.Policy, opts Options) *harness {
	t.Helper()

	clientRouterSide, clientTestSide, _ := newPipePair()
	clientEP := endpoint.New(endpoint.Client, -1, "client", clientRouterSide)

	serverEPs := make([]*endpoint.Endpoint, nServers)
	serverTestSides := make([]*frame.Transport, nServers)
	serverFeeds := make([]io.Closer, nServers)
	for i := 0; i < nServers; i++ {
		routerSide, testSide, feed := newPipePair()
		serverEPs[i] = endpoint.New(endpoint.Server, i, fmt.Sprintf("s%d", i), routerSide)
		serverTestSides[i] = testSide
		serverFeeds[i] = feed
	}

	rtr := New(clientEP, serverEPs, pol, nil, opts)
	diag := diagnostics.New(10*time.Millisecond, opts.RequestTimeout, opts.DropTardy, rtr.EmitDiagnostics, rtr.ServerName)
	rtr.AttachDiagnostics(diag)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	clientEP.Start(gctx, g)
	for _, ep := range serverEPs {
		ep.Start(gctx, g)
	}
	rtr.Start(gctx, g)

	h := &harness{t: t, router: rtr, client: clientTestSide, servers: serverTestSides, serverFeeds: serverFeeds, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.reason, h.runErr = rtr.Run(gctx)
		close(h.done)
	}()
	t.Cleanup(cancel)
	return h
}

func obj(t *testing.T, s string) []byte {
	t.Helper()
	return []byte(s)
}

func TestBasicTwoServerInitialize(t *testing.T) {
	pol, err := policy.New("default", 0, 2)
	require.NoError(t, err)
	h := newHarness(t, 2, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	require.NoError(t, h.client.WriteMessage(message.NewRequest(message.NewIntID(1), "initialize", obj(t, `{}`))))

	for i, srv := range h.servers {
		req, err := srv.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "initialize", req.Method)
		name := fmt.Sprintf("server-%d", i)
		result := obj(t, fmt.Sprintf(`{"capabilities":{"hoverProvider":true},"serverInfo":{"name":%q}}`, name))
		require.NoError(t, srv.WriteMessage(message.NewResult(message.IDFromRaw(req.ID), result)))
	}

	resp, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp.ID))
	assert.Contains(t, string(resp.Result), `"hoverProvider":true`)
	assert.Contains(t, string(resp.Result), `"name":"server-0+server-1"`)
}

func TestRenameRoutingReachesOnlyCapableServer(t *testing.T) {
	pol, err := policy.New("default", 0, 3)
	require.NoError(t, err)
	h := newHarness(t, 3, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	initAndCapture(t, h, []bool{false, true, true}, "renameProvider")

	require.NoError(t, h.client.WriteMessage(message.NewRequest(message.NewIntID(7), "textDocument/rename", obj(t, `{}`))))

	req, err := h.servers[1].ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "textDocument/rename", req.Method)
	require.NoError(t, h.servers[1].WriteMessage(message.NewResult(message.IDFromRaw(req.ID), obj(t, `{"ok":true}`))))

	resp, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "7", string(resp.ID))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))

	assertNoMessageWithin(t, h.servers[2], 100*time.Millisecond)
}

func TestCodeActionAggregationConcatenatesInOrder(t *testing.T) {
	pol, err := policy.New("default", 0, 3)
	require.NoError(t, err)
	h := newHarness(t, 3, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	initAndCapture(t, h, []bool{false, true, true}, "codeActionProvider")

	require.NoError(t, h.client.WriteMessage(message.NewRequest(message.NewIntID(9), "textDocument/codeAction", obj(t, `{}`))))

	req2, err := h.servers[1].ReadMessage()
	require.NoError(t, err)
	require.NoError(t, h.servers[1].WriteMessage(message.NewResult(message.IDFromRaw(req2.ID), obj(t, `[{"title":"A"},{"title":"B"}]`))))

	req3, err := h.servers[2].ReadMessage()
	require.NoError(t, err)
	require.NoError(t, h.servers[2].WriteMessage(message.NewResult(message.IDFromRaw(req3.ID), obj(t, `[{"title":"C"}]`))))

	resp, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"A"},{"title":"B"},{"title":"C"}]`, string(resp.Result))
}

func TestServerOriginatedRequestIdTranslation(t *testing.T) {
	pol, err := policy.New("default", 0, 1)
	require.NoError(t, err)
	h := newHarness(t, 1, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	initAndCapture(t, h, []bool{true})

	require.NoError(t, h.servers[0].WriteMessage(message.NewRequest(message.NewIntID(5), "window/showMessageRequest", obj(t, `{"message":"pick one"}`))))

	forwarded, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "window/showMessageRequest", forwarded.Method)
	assert.NotEqual(t, "5", string(forwarded.ID))

	require.NoError(t, h.client.WriteMessage(message.NewResult(message.IDFromRaw(forwarded.ID), obj(t, `{"title":"ok"}`))))

	back, err := h.servers[0].ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "5", string(back.ID))
	assert.JSONEq(t, `{"title":"ok"}`, string(back.Result))
}

func TestDropTardyInitializeCompletesFromPrimaryOnly(t *testing.T) {
	pol, err := policy.New("default", 0, 2)
	require.NoError(t, err)
	h := newHarness(t, 2, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 40 * time.Millisecond, DropTardy: true})

	require.NoError(t, h.client.WriteMessage(message.NewRequest(message.NewIntID(1), "initialize", obj(t, `{}`))))

	req0, err := h.servers[0].ReadMessage()
	require.NoError(t, err)
	require.NoError(t, h.servers[0].WriteMessage(message.NewResult(message.IDFromRaw(req0.ID), obj(t, `{"capabilities":{"hoverProvider":true},"serverInfo":{"name":"primary"}}`))))

	req1, err := h.servers[1].ReadMessage()
	require.NoError(t, err)

	resp, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(resp.Result), `"primary"`)

	// The secondary's late response arrives after the deadline and must
	// be dropped (with a warning logged) rather than producing a second
	// client reply.
	require.NoError(t, h.servers[1].WriteMessage(message.NewResult(message.IDFromRaw(req1.ID), obj(t, `{"capabilities":{},"serverInfo":{"name":"secondary"}}`))))
	assertNoMessageWithin(t, h.client, 150*time.Millisecond)
}

func TestServerNotificationTaggingCoversProgressAndShowMessage(t *testing.T) {
	pol, err := policy.New("default", 0, 1)
	require.NoError(t, err)
	h := newHarness(t, 1, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	initAndCapture(t, h, []bool{true})

	require.NoError(t, h.servers[0].WriteMessage(message.NewNotification("window/showMessage", obj(t, `{"type":3,"message":"indexing"}`))))
	show, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(show.Params), `"message":"[s0] indexing"`)

	require.NoError(t, h.servers[0].WriteMessage(message.NewNotification("$/progress", obj(t, `{"token":"t1","value":{"kind":"begin","title":"Indexing","message":"scanning"}}`))))
	prog, err := h.client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(prog.Params), `"message":"[s0] scanning"`)
	assert.Contains(t, string(prog.Params), `"title":"Indexing"`)
}

func TestServerCrashAfterInitIsFatal(t *testing.T) {
	pol, err := policy.New("default", 0, 2)
	require.NoError(t, err)
	h := newHarness(t, 2, pol, Options{PrimaryIndex: 0, RequestTimeout: 2 * time.Second, InitializeTimeout: 2 * time.Second})

	initAndCapture(t, h, []bool{true, true})

	require.NoError(t, h.serverFeeds[1].Close())

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a server crash")
	}
	assert.Equal(t, ShutdownFatal, h.reason)
	require.Error(t, h.runErr)
}

// initAndCapture drives a standard initialize handshake and replies with
// each server's capabilities, tagging the requested boolean providers
// true for the servers flagged capable.
func initAndCapture(t *testing.T, h *harness, capable []bool, providers ...string) {
	t.Helper()
	require.NoError(t, h.client.WriteMessage(message.NewRequest(message.NewIntID(0), "initialize", obj(t, `{}`))))
	for i, srv := range h.servers {
		req, err := srv.ReadMessage()
		require.NoError(t, err)
		caps := "{}"
		if capable[i] {
			caps = `{"hoverProvider":true`
			for _, p := range providers {
				caps += fmt.Sprintf(`,%q:true`, p)
			}
			caps += "}"
		}
		result := obj(t, fmt.Sprintf(`{"capabilities":%s,"serverInfo":{"name":"s%d"}}`, caps, i))
		require.NoError(t, srv.WriteMessage(message.NewResult(message.IDFromRaw(req.ID), result)))
	}
	_, err := h.client.ReadMessage()
	require.NoError(t, err)
}

func assertNoMessageWithin(t *testing.T, tr *frame.Transport, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	var got *message.Envelope
	go func() {
		m, err := tr.ReadMessage()
		if err == nil {
			got = m
		}
		close(done)
	}()
	select {
	case <-done:
		if got != nil {
			t.Fatalf("expected no message, got method=%q id=%s", got.Method, string(got.ID))
		}
	case <-time.After(d):
	}
}
