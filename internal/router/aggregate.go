// SPDX-License-Identifier: Apache-2.0

package router

import (
	"time"

	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/internal/policy"
	"github.com/rass-lsp/rass/pkg/logger"
)

// addressedServers returns the live servers eligible for route, applying
// the capability gate when the route requires one (spec.md §4.3 step 1:
// "S = {i : server i is live and capable}").
func (r *Router) addressedServers(route policy.Route) []int {
	var addressed []int
	for i, srv := range r.servers {
		if !srv.Alive() {
			continue
		}
		if route.RequireCapability && !r.pol.IsCapable(i, route.CapabilityField) {
			continue
		}
		addressed = append(addressed, i)
	}
	return addressed
}

// pickFirstCapable returns the lowest-indexed live, capable server, or
// -1 if none qualify.
func (r *Router) pickFirstCapable(route policy.Route) int {
	for i, srv := range r.servers {
		if !srv.Alive() {
			continue
		}
		if route.RequireCapability && !r.pol.IsCapable(i, route.CapabilityField) {
			continue
		}
		return i
	}
	return -1
}

// resolveDeadline applies the CLI-overridable timeouts on top of
// Policy's per-method table (spec.md §4.3 step 2, §6
// --request-timeout-ms/--initialize-timeout-ms).
func (r *Router) resolveDeadline(method string, route policy.Route) time.Duration {
	switch method {
	case "initialize":
		if r.opts.InitializeTimeout > 0 {
			return r.opts.InitializeTimeout
		}
	default:
		if r.opts.RequestTimeout > 0 {
			return r.opts.RequestTimeout
		}
	}
	if route.Deadline > 0 {
		return route.Deadline
	}
	return 2000 * time.Millisecond
}

// dispatchBroadcastRequest starts a fan-out aggregation for a
// BroadcastRequest-routed client request (spec.md §4.3 "Aggregation
// protocol").
func (r *Router) dispatchBroadcastRequest(clientID []byte, method string, params []byte, route policy.Route) {
	addressed := r.addressedServers(route)
	if len(addressed) == 0 {
		if route.EmptyResult != nil {
			r.replyResult(clientID, route.EmptyResult)
		} else {
			r.replyError(clientID, message.CodeMethodNotFound, "no capable server for "+method)
		}
		return
	}

	key := idKey(clientID)
	pending := newPendingClientRequest(clientID, method, route, addressed)
	r.pending.clientRequests[key] = pending

	deadline := r.resolveDeadline(method, route)
	pending.timer = r.scheduleDeadline(key, deadline)

	req := message.NewRequest(message.IDFromRaw(clientID), method, params)
	for _, idx := range addressed {
		if err := r.servers[idx].Send(req); err != nil {
			logger.Warnw("failed dispatching to server", "server", r.servers[idx].Name(), "error", err)
		}
	}
}

// dispatchPickFirstCapable starts a single-server pass-through request.
// It is modeled as a one-server aggregation so dead-server and
// completion handling share the same pending-table machinery as
// BroadcastRequest.
func (r *Router) dispatchPickFirstCapable(clientID []byte, method string, params []byte, route policy.Route) {
	idx := r.pickFirstCapable(route)
	if idx < 0 {
		r.replyError(clientID, message.CodeMethodNotFound, "no capable server for "+method)
		return
	}

	key := idKey(clientID)
	pending := newPendingClientRequest(clientID, method, route, []int{idx})
	r.pending.clientRequests[key] = pending

	req := message.NewRequest(message.IDFromRaw(clientID), method, params)
	if err := r.servers[idx].Send(req); err != nil {
		logger.Warnw("failed dispatching to server", "server", r.servers[idx].Name(), "error", err)
	}
}

// completeAggregation finalizes a pending client request, replying
// exactly once, per spec.md §4.3 step 4 / §8 "Response uniqueness".
func (r *Router) completeAggregation(key string, tardy bool) {
	pending, ok := r.pending.clientRequests[key]
	if !ok {
		return // already completed, cancelled, or unknown.
	}
	delete(r.pending.clientRequests, key)
	if pending.timer != nil {
		pending.timer.Stop()
	}
	if tardy && len(pending.outstanding) > 0 {
		for idx := range pending.outstanding {
			logger.Warnw("aggregation deadline fired with server still outstanding",
				"server", r.servers[idx].Name(), "method", pending.method)
		}
	}

	if pending.route.Kind == policy.PickFirstCapable {
		idx := pending.addressed[0]
		res, ok := pending.collected[idx]
		if !ok {
			r.replyResult(pending.clientID, []byte("null"))
			return
		}
		if res.Err != nil {
			r.replyRPCError(pending.clientID, res.Err)
			return
		}
		r.replyResult(pending.clientID, res.Value)
		return
	}

	merged, rpcErr := r.pol.MergeResponses(pending.method, r.opts.PrimaryIndex, pending.addressed, pending.collected)
	if rpcErr != nil {
		r.replyRPCError(pending.clientID, rpcErr)
		return
	}
	r.replyResult(pending.clientID, merged)
}
