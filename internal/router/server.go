// SPDX-License-Identifier: Apache-2.0

package router

import (
	"github.com/rass-lsp/rass/internal/endpoint"
	"github.com/rass-lsp/rass/internal/jsonpath"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/internal/policy"
	"github.com/rass-lsp/rass/pkg/logger"
)

func (r *Router) onServerInbound(idx int, in endpoint.Inbound) (done bool, reason Reason) {
	if in.Err != nil {
		return r.onServerDead(idx, in.Err)
	}
	msg := in.Message
	switch msg.Kind() {
	case message.KindResponse:
		r.onServerResponse(idx, msg)
	case message.KindNotification:
		r.onServerNotification(idx, msg)
	case message.KindRequest:
		r.onServerRequest(idx, msg)
	default:
		logger.Warnw("dropping malformed message from server", "server", r.servers[idx].Name(), "method", msg.Method)
	}
	return false, ShutdownClean
}

func (r *Router) onServerResponse(idx int, msg *message.Envelope) {
	key := idKey(msg.ID)
	pending, ok := r.pending.clientRequests[key]
	if !ok {
		logger.Warnw("dropping response for unknown or retired request",
			"server", r.servers[idx].Name())
		return
	}
	if !pending.outstanding[idx] {
		logger.Warnw("dropping duplicate or unaddressed response",
			"server", r.servers[idx].Name(), "method", pending.method)
		return
	}
	delete(pending.outstanding, idx)
	pending.collected[idx] = policy.Result{Value: msg.Result, Err: msg.Error}

	if pending.method == "initialize" && msg.Error == nil {
		r.pol.ObserveInitializeResult(idx, r.opts.PrimaryIndex, msg.Result)
		if name, ok := jsonpath.GetOptionalString(msg.Result, "serverInfo.name"); ok && name != "" {
			r.servers[idx].SetName(name)
		}
	}

	if len(pending.outstanding) == 0 {
		r.completeAggregation(key, false)
	}
}

func (r *Router) onServerNotification(idx int, msg *message.Envelope) {
	if msg.Method == "textDocument/publishDiagnostics" {
		r.onPublishDiagnostics(idx, msg)
		return
	}
	if msg.Method == "$/cancelRequest" {
		// Symmetric with client cancellation (spec.md §4.3), but dormant:
		// the only server-bound requests the Router originates are the
		// shutdown requests sent as it stops, which are not tracked, so
		// there is nothing to translate here.
		logger.Debugw("ignoring server-originated cancellation; proxy-originated requests are not tracked",
			"server", r.servers[idx].Name())
		return
	}

	pt := r.pol.RouteServerNotification(msg.Method)
	if !pt.Forward {
		return
	}
	out := msg
	if pt.TagWithServerName {
		// window/showMessage and window/logMessage carry their text at
		// params.message; $/progress nests it at params.value.message
		// (WorkDoneProgressBegin/Report/End), per spec.md §4.3's
		// "tag with server name" row.
		field := "message"
		if msg.Method == "$/progress" {
			field = "value.message"
		}
		if text, ok := jsonpath.GetOptionalString(msg.Params, field); ok {
			tagged, err := jsonpath.Set(msg.Params, field, "["+r.servers[idx].Name()+"] "+text)
			if err == nil {
				out = message.NewNotification(msg.Method, tagged)
			}
		}
	}
	r.sendToClient(out)
}

func (r *Router) onPublishDiagnostics(idx int, msg *message.Envelope) {
	if r.diag == nil {
		return
	}
	uri, ok := jsonpath.GetOptionalString(msg.Params, "uri")
	if !ok {
		return
	}
	version := jsonpath.GetInt(msg.Params, "version")
	hasVersion := jsonpath.Exists(msg.Params, "version")
	diagnosticsRaw := jsonpath.Raw(msg.Params, "diagnostics")
	if diagnosticsRaw == nil {
		diagnosticsRaw = []byte("[]")
	}
	r.diag.Record(idx, uri, version, hasVersion, diagnosticsRaw)
}

func (r *Router) onServerRequest(idx int, msg *message.Envelope) {
	proxyID := r.ids.nextClientBound()
	r.pending.serverRequests[idKey(proxyID.Raw())] = &pendingServerRequest{
		serverIndex: idx,
		originalID:  msg.ID,
	}
	r.sendToClient(msg.WithID(proxyID))
}

// onServerDead handles an endpoint's transport ending (spec.md §4.3
// "Failure semantics"). Per spec.md §8 scenario 8 ("server crash after
// init"), confirmed against original_source/dada.py:254-258 (a server
// read returning EOF while not shutting down raises and exits 1): any
// server transport ending outside an orderly shutdown is fatal and
// attributed to that server, not just a pre-initialize crash. The only
// non-fatal case is when the client has already told us it's exiting
// (r.clientExiting), since that means we ourselves asked every server to
// shut down and exit and this death is them obeying.
func (r *Router) onServerDead(idx int, err error) (bool, Reason) {
	logger.Warnw("server endpoint dead", "server", r.servers[idx].Name(), "error", err)

	if r.clientExiting {
		for key, pending := range r.pending.clientRequests {
			if !pending.outstanding[idx] {
				continue
			}
			delete(pending.outstanding, idx)
			pending.collected[idx] = policy.Result{Value: []byte("null")}
			if len(pending.outstanding) == 0 {
				r.completeAggregation(key, false)
			}
		}
		return false, ShutdownClean
	}
	return r.fatal("server %s crashed", r.servers[idx].Name())
}
