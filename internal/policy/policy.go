// SPDX-License-Identifier: Apache-2.0

// Package policy implements the LSP-aware decision layer from spec.md
// §4.4: per-method routing rules, capability merging, and response/
// notification merge functions. It is deliberately stateful (it caches
// merged capabilities) but its decision functions are pure given that
// state, so the Router can call them synchronously from its single
// event-loop goroutine (spec.md §5).
package policy

import (
	"encoding/json"
	"time"

	"github.com/rass-lsp/rass/internal/message"
)

// RouteKind is one of the four routing decisions from spec.md §4.3.
type RouteKind int

const (
	// BroadcastNotification sends a client notification to every live server.
	BroadcastNotification RouteKind = iota
	// PickFirstCapable sends a request to the lowest-indexed live, capable server.
	PickFirstCapable
	// BroadcastRequest fans a request out to every live, capable server and merges responses.
	BroadcastRequest
	// DropSilently accepts a client message without forwarding it anywhere.
	DropSilently
)

// Route is Policy's answer to "how should this client message be routed".
type Route struct {
	Kind RouteKind
	// Deadline applies only to BroadcastRequest; spec.md §4.3 step 2.
	Deadline time.Duration
	// RequireCapability, when true, restricts BroadcastRequest/PickFirstCapable
	// to servers whose cached capabilities advertise CapabilityField.
	RequireCapability bool
	CapabilityField   string
	// EmptyResult is what to reply with when BroadcastRequest addresses zero
	// servers (spec.md §4.3 step 1), e.g. `null` or `[]`.
	EmptyResult json.RawMessage
}

// PassThrough is Policy's answer to "how should this server-originated
// notification be routed to the client".
type PassThrough struct {
	// Forward, when false, means the notification is consumed entirely by
	// Policy (e.g. publishDiagnostics, which is aggregated and re-emitted
	// by internal/diagnostics instead of passed straight through).
	Forward bool
	// TagWithServerName prepends "[name] " to the notification's message
	// text (params.message, or params.value.message for $/progress), per the
	// window/showMessage | window/logMessage | $/progress row of the
	// routing table in spec.md §4.4.
	TagWithServerName bool
}

// Policy is the pluggable decision layer named by spec.md §6's
// --logic-class flag.
type Policy interface {
	// Name identifies this policy for --logic-class and log lines.
	Name() string

	// RouteClientRequest classifies a client->server request.
	RouteClientRequest(method string) Route
	// RouteClientNotification classifies a client->server notification.
	RouteClientNotification(method string) Route
	// RouteServerNotification classifies a server->client notification.
	RouteServerNotification(method string) PassThrough

	// IsCapable reports whether serverIndex's cached capabilities satisfy
	// field (a dotted jsonpath under "capabilities").
	IsCapable(serverIndex int, field string) bool

	// ObserveInitializeResult folds one server's initialize result into
	// the merged capability cache. Called once per server, in the order
	// responses are collected.
	ObserveInitializeResult(serverIndex int, primaryIndex int, result json.RawMessage)

	// MergeResponses combines the collected per-server results for method
	// into a single result to send the client, per spec.md §4.3 step 4.
	MergeResponses(method string, primaryIndex int, addressed []int, collected map[int]Result) (json.RawMessage, *message.RPCError)
}

// Result is one server's outcome for a single aggregated request: exactly
// one of Value/Err is set. A server that never responded before the
// deadline has no entry in the collected map; a server whose transport
// ended during an orderly client exit is recorded with a null Value.
type Result struct {
	Value json.RawMessage
	Err   *message.RPCError
}
