// SPDX-License-Identifier: Apache-2.0

package policy

import "time"

// capabilityField maps an LSP method to the capabilities field that
// advertises it, used by IsCapable / PickFirstCapable / BroadcastRequest's
// "addressed = live AND capable" filter (spec.md §4.3/§4.4).
var capabilityField = map[string]string{
	"textDocument/rename":         "renameProvider",
	"textDocument/hover":          "hoverProvider",
	"textDocument/completion":     "completionProvider",
	"textDocument/signatureHelp":  "signatureHelpProvider",
	"textDocument/formatting":     "documentFormattingProvider",
	"textDocument/rangeFormatting": "documentRangeFormattingProvider",
	"textDocument/codeAction":     "codeActionProvider",
	"textDocument/definition":     "definitionProvider",
	"textDocument/references":     "referencesProvider",
	"textDocument/implementation": "implementationProvider",
	"textDocument/typeDefinition": "typeDefinitionProvider",
	"textDocument/declaration":    "declarationProvider",
	"workspace/symbol":            "workspaceSymbolProvider",
}

var nullResult = []byte("null")
var emptyArrayResult = []byte("[]")

// requestTable holds the mandatory per-method request routing entries
// from spec.md §4.4's table, plus the workspace/symbol extension the
// table's own "unless explicitly broadcast" carve-out allows.
var requestTable = map[string]Route{
	"initialize": {Kind: BroadcastRequest, Deadline: 2500 * time.Millisecond},
	"shutdown":   {Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond},

	"textDocument/rename":         {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "renameProvider"},
	"textDocument/hover":          {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "hoverProvider"},
	"textDocument/completion":     {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "completionProvider"},
	"textDocument/signatureHelp":  {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "signatureHelpProvider"},
	"textDocument/formatting":     {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "documentFormattingProvider"},
	"textDocument/rangeFormatting": {Kind: PickFirstCapable, RequireCapability: true, CapabilityField: "documentRangeFormattingProvider"},

	"textDocument/codeAction": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "codeActionProvider",
		EmptyResult: emptyArrayResult,
	},
	"textDocument/definition": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "definitionProvider",
		EmptyResult: nullResult,
	},
	"textDocument/references": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "referencesProvider",
		EmptyResult: emptyArrayResult,
	},
	"textDocument/implementation": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "implementationProvider",
		EmptyResult: nullResult,
	},
	"textDocument/typeDefinition": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "typeDefinitionProvider",
		EmptyResult: nullResult,
	},
	"textDocument/declaration": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "declarationProvider",
		EmptyResult: nullResult,
	},
	// workspace/symbol: aggregated rather than PickFirstCapable, because
	// (unlike rename/hover) there is no single authoritative answer —
	// spec.md §4.4's workspace/* row explicitly allows "unless explicitly
	// broadcast".
	"workspace/symbol": {
		Kind: BroadcastRequest, Deadline: 2000 * time.Millisecond,
		RequireCapability: true, CapabilityField: "workspaceSymbolProvider",
		EmptyResult: emptyArrayResult,
	},
}

// notificationTable holds client->server notification entries that are
// not a plain default-case BroadcastNotification.
var notificationTable = map[string]Route{
	"$/cancelRequest": {Kind: DropSilently}, // handled specially by the Router; never reaches Policy routing.
}

// serverNotificationTable holds server->client notification entries that
// are not a plain pass-through.
var serverNotificationTable = map[string]PassThrough{
	"window/showMessage": {Forward: true, TagWithServerName: true},
	"window/logMessage":  {Forward: true, TagWithServerName: true},
	"$/progress":         {Forward: true, TagWithServerName: true},
	// textDocument/publishDiagnostics is consumed by internal/diagnostics
	// and re-emitted as a merged notification; it never passes straight
	// through (spec.md §4.4 "Diagnostics aggregation").
	"textDocument/publishDiagnostics": {Forward: false},
}

func routeClientRequest(method string) Route {
	if r, ok := requestTable[method]; ok {
		return r
	}
	// Default for any unlisted request: PickFirstCapable against the
	// primary, no capability gate — the generic "single authoritative
	// answer from the canonical server" shape spec.md's glossary assigns
	// to "Primary server", and the fallback spec.md §4.4's workspace/*
	// row names explicitly for that family.
	return Route{Kind: PickFirstCapable}
}

func routeClientNotification(method string) Route {
	if r, ok := notificationTable[method]; ok {
		return r
	}
	// Default: broadcast. Covers textDocument/did* (open/change/close/save)
	// and any notification spec.md doesn't special-case; §4.3 describes
	// BroadcastNotification generically as "client notifications".
	return Route{Kind: BroadcastNotification}
}

func routeServerNotification(method string) PassThrough {
	if p, ok := serverNotificationTable[method]; ok {
		return p
	}
	// Default: pass through unchanged. spec.md §4.3: "Notification from
	// server: ask Policy. Most pass through directly."
	return PassThrough{Forward: true}
}
