// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/rass-lsp/rass/internal/jsonpath"
	"github.com/rass-lsp/rass/internal/message"
)

func init() {
	Register("default", NewDefault)
}

// defaultPolicy is rass's built-in Policy: the mandatory routing table
// from spec.md §4.4 plus its capability-merge and response-merge rules.
type defaultPolicy struct {
	primaryIndex int
	serverCount  int

	mu          sync.Mutex
	caps        *capabilityState
	serverInfos map[int]json.RawMessage
}

// NewDefault is the Factory for the "default" --logic-class.
func NewDefault(primaryIndex int, serverCount int) Policy {
	return &defaultPolicy{
		primaryIndex: primaryIndex,
		serverCount:  serverCount,
		caps:         newCapabilityState(),
		serverInfos:  make(map[int]json.RawMessage),
	}
}

func (p *defaultPolicy) Name() string { return "default" }

func (p *defaultPolicy) RouteClientRequest(method string) Route { return routeClientRequest(method) }

func (p *defaultPolicy) RouteClientNotification(method string) Route {
	return routeClientNotification(method)
}

func (p *defaultPolicy) RouteServerNotification(method string) PassThrough {
	return routeServerNotification(method)
}

func (p *defaultPolicy) IsCapable(serverIndex int, field string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps.isCapable(serverIndex, field)
}

func (p *defaultPolicy) ObserveInitializeResult(serverIndex int, primaryIndex int, result json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capsRaw := jsonpath.Raw(result, "capabilities"); capsRaw != nil {
		p.caps.observe(serverIndex, capsRaw)
	} else {
		p.caps.observe(serverIndex, []byte("{}"))
	}
	if info := jsonpath.Raw(result, "serverInfo"); info != nil {
		p.serverInfos[serverIndex] = info
	}
}

func (p *defaultPolicy) MergeResponses(method string, primaryIndex int, addressed []int, collected map[int]Result) (json.RawMessage, *message.RPCError) {
	switch method {
	case "initialize":
		return p.mergeInitialize(primaryIndex, addressed, collected), nil
	case "shutdown":
		return p.mergeShutdown(addressed, collected)
	case "textDocument/codeAction":
		return concatArrays(addressed, collected), nil
	case "textDocument/definition", "textDocument/implementation",
		"textDocument/typeDefinition", "textDocument/declaration":
		return dedupLocations(addressed, collected, nullResult), nil
	case "textDocument/references":
		// references' EmptyResult is [] (table.go), not null like the
		// other Location-returning methods.
		return dedupLocations(addressed, collected, emptyArrayResult), nil
	case "workspace/symbol":
		return dedupSymbols(addressed, collected), nil
	default:
		return p.mergeGeneric(primaryIndex, addressed, collected), nil
	}
}

// mergeInitialize builds the combined initialize result: merged
// capabilities (capabilities.go) plus a single synthesized serverInfo.
func (p *defaultPolicy) mergeInitialize(primaryIndex int, addressed []int, collected map[int]Result) json.RawMessage {
	p.mu.Lock()
	merged := p.caps.merged(primaryIndex)
	p.mu.Unlock()

	out, _ := jsonpath.SetRaw([]byte("{}"), "capabilities", string(merged))

	serverInfo := p.mergeServerInfo(primaryIndex, addressed)
	if serverInfo != nil {
		out, _ = jsonpath.SetRaw(out, "serverInfo", string(serverInfo))
	}
	return out
}

// mergeServerInfo folds every addressed server's serverInfo into one,
// primary first, per original_source/wowo.py's _merge_initialize_payloads
// merge_field: name fields join with "+", version fields with ",",
// skipping servers that reported neither.
func (p *defaultPolicy) mergeServerInfo(primaryIndex int, addressed []int) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var name, version string
	any := false
	for _, idx := range primaryFirstOrder(primaryIndex, addressed) {
		info, ok := p.serverInfos[idx]
		if !ok {
			continue
		}
		any = true
		name = mergeInfoField(name, jsonpath.GetString(info, "name"), "+")
		version = mergeInfoField(version, jsonpath.GetString(info, "version"), ",")
	}
	if !any {
		return nil
	}
	out, _ := jsonpath.Set([]byte("{}"), "name", name)
	if version != "" {
		out, _ = jsonpath.Set(out, "version", version)
	}
	return out
}

func mergeInfoField(current, next, sep string) string {
	if current == "" {
		return next
	}
	if next == "" {
		return current
	}
	return current + sep + next
}

// primaryFirstOrder returns addressed sorted by index, but with
// primaryIndex moved to the front when present.
func primaryFirstOrder(primaryIndex int, addressed []int) []int {
	ordered := append([]int(nil), addressed...)
	sort.Ints(ordered)
	out := make([]int, 0, len(ordered))
	hasPrimary := false
	for _, idx := range ordered {
		if idx == primaryIndex {
			hasPrimary = true
		}
	}
	if hasPrimary {
		out = append(out, primaryIndex)
	}
	for _, idx := range ordered {
		if idx != primaryIndex {
			out = append(out, idx)
		}
	}
	return out
}

// mergeShutdown ignores individual results: shutdown succeeds unless
// every addressed server failed.
func (p *defaultPolicy) mergeShutdown(addressed []int, collected map[int]Result) (json.RawMessage, *message.RPCError) {
	if len(addressed) == 0 {
		return nullResult, nil
	}
	var lastErr *message.RPCError
	anyOK := false
	for _, idx := range addressed {
		r, ok := collected[idx]
		if !ok {
			continue // tardy/dropped: not counted as a failure
		}
		if r.Err != nil {
			lastErr = r.Err
			continue
		}
		anyOK = true
	}
	if anyOK || lastErr == nil {
		return nullResult, nil
	}
	return nil, lastErr
}

// mergeGeneric handles any BroadcastRequest method not given a dedicated
// merge rule: arrays concatenate, everything else falls back to the
// primary's result (or the first addressed server's, if the primary
// didn't answer).
func (p *defaultPolicy) mergeGeneric(primaryIndex int, addressed []int, collected map[int]Result) json.RawMessage {
	if r, ok := collected[primaryIndex]; ok && r.Err == nil && gjson.ParseBytes(r.Value).IsArray() {
		return concatArrays(addressed, collected)
	}
	if r, ok := collected[primaryIndex]; ok && r.Err == nil {
		return r.Value
	}
	ordered := append([]int(nil), addressed...)
	sort.Ints(ordered)
	for _, idx := range ordered {
		if r, ok := collected[idx]; ok && r.Err == nil {
			return r.Value
		}
	}
	return nullResult
}

func concatArrays(addressed []int, collected map[int]Result) json.RawMessage {
	ordered := append([]int(nil), addressed...)
	sort.Ints(ordered)
	var items []string
	for _, idx := range ordered {
		r, ok := collected[idx]
		if !ok || r.Err != nil {
			continue
		}
		for _, item := range jsonpath.GetList(r.Value, "@this") {
			items = append(items, item.Raw)
		}
	}
	return buildArray(items)
}

// dedupLocations concatenates definition/references-family results and
// drops exact duplicate (uri, range) pairs, per spec.md §4.3 step 4.
// empty is the route's own EmptyResult, returned when nothing survives.
func dedupLocations(addressed []int, collected map[int]Result, empty json.RawMessage) json.RawMessage {
	ordered := append([]int(nil), addressed...)
	sort.Ints(ordered)
	seen := map[string]bool{}
	var items []string
	for _, idx := range ordered {
		r, ok := collected[idx]
		if !ok || r.Err != nil {
			continue
		}
		for _, loc := range jsonpath.GetList(r.Value, "@this") {
			key := loc.Get("uri").String() + "|" + loc.Get("range").Raw
			if key == "|" {
				key = loc.Raw // not a Location shape; fall back to exact match
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, loc.Raw)
		}
	}
	if len(items) == 0 {
		return empty
	}
	return buildArray(items)
}

func dedupSymbols(addressed []int, collected map[int]Result) json.RawMessage {
	ordered := append([]int(nil), addressed...)
	sort.Ints(ordered)
	seen := map[string]bool{}
	var items []string
	for _, idx := range ordered {
		r, ok := collected[idx]
		if !ok || r.Err != nil {
			continue
		}
		for _, sym := range jsonpath.GetList(r.Value, "@this") {
			key := sym.Get("name").String() + "|" + sym.Get("location").Raw
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, sym.Raw)
		}
	}
	return buildArray(items)
}

func buildArray(items []string) json.RawMessage {
	out := "["
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	out += "]"
	return json.RawMessage(out)
}
