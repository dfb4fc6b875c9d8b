// SPDX-License-Identifier: Apache-2.0

package router

import (
	"go.uber.org/multierr"

	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/jsonpath"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/internal/policy"
	"github.com/rass-lsp/rass/pkg/logger"
)

func (r *Router) onClientInbound(in endpoint.Inbound) (done bool, reason Reason) {
	if in.Err != nil {
		return r.onClientGone(in.Err)
	}
	msg := in.Message
	switch msg.Kind() {
	case message.KindRequest:
		r.dispatchClientRequest(msg)
	case message.KindNotification:
		r.dispatchClientNotification(msg)
	case message.KindResponse:
		r.onClientResponse(msg)
	default:
		logger.Warnw("dropping malformed message from client", "method", msg.Method)
	}
	return false, ShutdownClean
}

func (r *Router) dispatchClientRequest(msg *message.Envelope) {
	route := r.pol.RouteClientRequest(msg.Method)
	switch route.Kind {
	case policy.DropSilently:
		return
	case policy.PickFirstCapable:
		r.dispatchPickFirstCapable(msg.ID, msg.Method, msg.Params, route)
	case policy.BroadcastRequest:
		r.dispatchBroadcastRequest(msg.ID, msg.Method, msg.Params, route)
	default:
		r.replyError(msg.ID, message.CodeInternalError, "unroutable request")
	}
}

func (r *Router) dispatchClientNotification(msg *message.Envelope) {
	if msg.Method == "$/cancelRequest" {
		r.handleClientCancel(msg)
		return
	}
	if msg.Method == "exit" {
		r.clientExiting = true
	}

	route := r.pol.RouteClientNotification(msg.Method)
	switch route.Kind {
	case policy.DropSilently:
		return
	case policy.BroadcastNotification:
		r.noteDiagnosticTrigger(msg)
		n := message.NewNotification(msg.Method, msg.Params)
		for _, srv := range r.servers {
			if !srv.Alive() {
				continue
			}
			if err := srv.Send(n); err != nil {
				logger.Warnw("failed forwarding notification to server", "server", srv.Name(), "method", msg.Method, "error", err)
			}
		}
	default:
		logger.Warnw("unexpected route kind for client notification", "method", msg.Method)
	}
}

// noteDiagnosticTrigger starts the tardiness clock for a URI touched by
// a didOpen/didChange/didSave, per spec.md §4.4 "Tardy diagnostics".
func (r *Router) noteDiagnosticTrigger(msg *message.Envelope) {
	switch msg.Method {
	case "textDocument/didOpen", "textDocument/didChange", "textDocument/didSave":
	default:
		return
	}
	if r.diag == nil {
		return
	}
	uri, ok := jsonpath.GetOptionalString(msg.Params, "textDocument.uri")
	if !ok {
		return
	}
	r.diag.NoteTrigger(uri)
}

// onClientResponse handles the client answering a server-originated
// request the Router forwarded under a minted proxy id.
func (r *Router) onClientResponse(msg *message.Envelope) {
	key := idKey(msg.ID)
	psr, ok := r.pending.serverRequests[key]
	if !ok {
		logger.Warnw("dropping client response for unknown or retired proxy id")
		return
	}
	delete(r.pending.serverRequests, key)

	if psr.serverIndex >= len(r.servers) || !r.servers[psr.serverIndex].Alive() {
		return
	}
	reply := msg.WithID(message.IDFromRaw(psr.originalID))
	if err := r.servers[psr.serverIndex].Send(reply); err != nil {
		logger.Warnw("failed forwarding client response to server", "server", r.servers[psr.serverIndex].Name(), "error", err)
	}
}

// handleClientCancel translates a client $/cancelRequest to every server
// still outstanding for the referenced id, then eagerly retires the
// pending entry (spec.md §4.3 "Cancellation").
func (r *Router) handleClientCancel(msg *message.Envelope) {
	targetID := jsonpath.Raw(msg.Params, "id")
	if targetID == nil {
		return
	}
	key := idKey(targetID)
	pending, ok := r.pending.clientRequests[key]
	if !ok {
		return // already completed or unknown; nothing to cancel.
	}
	delete(r.pending.clientRequests, key)
	if pending.timer != nil {
		pending.timer.Stop()
	}

	cancelParams, err := jsonpath.SetRaw([]byte("{}"), "id", string(targetID))
	if err != nil {
		return
	}
	n := message.NewNotification("$/cancelRequest", cancelParams)
	for idx := range pending.outstanding {
		if !r.servers[idx].Alive() {
			continue
		}
		if err := r.servers[idx].Send(n); err != nil {
			logger.Warnw("failed forwarding cancellation to server", "server", r.servers[idx].Name(), "error", err)
		}
	}
}

// onClientGone handles the client transport ending. A clean shutdown
// (client sent exit before closing) exits 0; an unexpected close is
// fatal (spec.md §6 exit code 1 "client gone unexpectedly").
func (r *Router) onClientGone(err error) (bool, Reason) {
	// Any server-originated request still awaiting the client's answer
	// will never get one now; answer it ourselves rather than leaving it
	// to dangle or forwarding it into a closing transport.
	for key, psr := range r.pending.serverRequests {
		delete(r.pending.serverRequests, key)
		if psr.serverIndex >= len(r.servers) || !r.servers[psr.serverIndex].Alive() {
			continue
		}
		cancelled := message.NewError(message.IDFromRaw(psr.originalID), message.CodeRequestCancelled, "client shutting down", nil)
		if sendErr := r.servers[psr.serverIndex].Send(cancelled); sendErr != nil {
			logger.Warnw("failed sending shutdown cancellation to server", "server", r.servers[psr.serverIndex].Name(), "error", sendErr)
		}
	}

	var teardownErr error
	for _, srv := range r.servers {
		if !srv.Alive() {
			continue
		}
		teardownErr = multierr.Append(teardownErr, srv.Send(message.NewRequest(r.ids.nextServerBound(), "shutdown", nil)))
		teardownErr = multierr.Append(teardownErr, srv.Send(message.NewNotification("exit", nil)))
	}
	if teardownErr != nil {
		logger.Warnw("errors tearing down server endpoints", "error", teardownErr)
	}
	if r.clientExiting {
		return true, ShutdownClean
	}
	r.fatalErr = err
	if r.fatalErr == nil {
		r.fatalErr = errClientClosed
	}
	return true, ShutdownClientGone
}
