// SPDX-License-Identifier: Apache-2.0

// Package diagnostics implements spec.md §4.4's "Diagnostics aggregation":
// a per-(server, uri) cache of the latest publishDiagnostics payload,
// coalesced and re-emitted to the client as a single merged notification,
// with tardy per-server publishes discarded when requested.
package diagnostics

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rass-lsp/rass/internal/jsonpath"
	"github.com/rass-lsp/rass/internal/message"
	"github.com/rass-lsp/rass/pkg/logger"
)

// ServerNamer resolves a server index to its display name, used both for
// source-attribution stamping and tardy-drop log lines.
type ServerNamer func(serverIndex int) string

// Emitter delivers a merged publishDiagnostics notification to the
// client endpoint.
type Emitter func(notification *message.Envelope)

// Engine is the stateful diagnostics aggregator. It is driven entirely
// by the Router's single event-loop goroutine, so its internal locking
// exists only to let its own coalescing timers call back safely, not to
// protect against concurrent callers (spec.md §5: all Router-owned state
// is touched from one goroutine; timers are external event sources that
// enqueue, here they call back directly since the merge work itself is
// cheap and side-effect-free except through Emitter).
type Engine struct {
	coalesceWindow time.Duration
	tardyTimeout   time.Duration
	dropTardy      bool
	emit           Emitter
	serverName     ServerNamer

	mu      sync.Mutex
	perURI  map[string]*uriState
}

type uriState struct {
	perServer   map[int]serverDiagnostics
	triggeredAt time.Time
	hasTrigger  bool
	limiter     *rate.Limiter
	timer       *time.Timer
}

type serverDiagnostics struct {
	version    int
	hasVersion bool
	items      json.RawMessage // raw JSON array
}

// New builds a diagnostics Engine. coalesceWindow is --diagnostic-coalesce-ms
// (default 50ms); tardyTimeout is --diagnostic-timeout-ms (default 1000ms);
// dropTardy mirrors --drop-tardy.
func New(coalesceWindow, tardyTimeout time.Duration, dropTardy bool, emit Emitter, serverName ServerNamer) *Engine {
	return &Engine{
		coalesceWindow: coalesceWindow,
		tardyTimeout:   tardyTimeout,
		dropTardy:      dropTardy,
		emit:           emit,
		serverName:     serverName,
		perURI:         make(map[string]*uriState),
	}
}

// NoteTrigger records that a didOpen/didChange/didSave for uri was just
// forwarded to the servers, starting the tardiness clock for whatever
// diagnostics publish is meant to answer it (spec.md §4.4 "Tardy
// diagnostics": "a configurable per-server timeout ... after the
// triggering didChange for that document version").
func (e *Engine) NoteTrigger(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(uri)
	st.triggeredAt = time.Now()
	st.hasTrigger = true
}

// Record ingests one server's publishDiagnostics for uri. diagnosticsRaw
// is the raw `diagnostics` array from that server's notification.
func (e *Engine) Record(serverIndex int, uri string, version int, hasVersion bool, diagnosticsRaw json.RawMessage) {
	stamped := e.stampSource(serverIndex, diagnosticsRaw)

	e.mu.Lock()
	st := e.stateLocked(uri)
	if e.dropTardy && st.hasTrigger && time.Since(st.triggeredAt) > e.tardyTimeout {
		e.mu.Unlock()
		logger.Warnw("dropping tardy diagnostics",
			"server", e.serverName(serverIndex), "uri", uri,
			"elapsed_ms", time.Since(st.triggeredAt).Milliseconds())
		return
	}
	if prev, ok := st.perServer[serverIndex]; ok && hasVersion && prev.hasVersion && version < prev.version {
		e.mu.Unlock()
		logger.Debugw("dropping stale diagnostics",
			"server", e.serverName(serverIndex), "uri", uri, "version", version, "last_version", prev.version)
		return
	}
	st.perServer[serverIndex] = serverDiagnostics{version: version, hasVersion: hasVersion, items: stamped}
	e.scheduleOrFlushLocked(uri, st)
	e.mu.Unlock()
}

// stampSource sets each diagnostic's "source" field to the originating
// server's name when the field is absent, per spec.md §4.4: "Each
// diagnostic's source field is preserved or set to the server name when
// absent." Implemented via original_source/wowo.py's on_server_message,
// which stamps source at ingest time rather than at merge time.
func (e *Engine) stampSource(serverIndex int, diagnosticsRaw json.RawMessage) json.RawMessage {
	name := e.serverName(serverIndex)
	items := jsonpath.GetList(diagnosticsRaw, "@this")
	if len(items) == 0 {
		return []byte("[]")
	}
	out := []byte("[]")
	for _, d := range items {
		raw := []byte(d.Raw)
		if !jsonpath.Exists(raw, "source") {
			var err error
			raw, err = jsonpath.Set(raw, "source", name)
			if err != nil {
				raw = []byte(d.Raw)
			}
		}
		if appended, err := jsonpath.SetRaw(out, "-1", string(raw)); err == nil {
			out = appended
		}
	}
	return out
}

func (e *Engine) stateLocked(uri string) *uriState {
	st, ok := e.perURI[uri]
	if !ok {
		st = &uriState{
			perServer: make(map[int]serverDiagnostics),
			limiter:   rate.NewLimiter(rate.Every(e.coalesceWindow), 1),
		}
		e.perURI[uri] = st
	}
	return st
}

func (e *Engine) scheduleOrFlushLocked(uri string, st *uriState) {
	if st.timer != nil {
		return // a trailing flush is already scheduled; it will pick up this update.
	}
	if st.limiter.Allow() {
		e.flushLocked(uri, st)
		return
	}
	st.timer = time.AfterFunc(e.coalesceWindow, func() {
		e.mu.Lock()
		st.timer = nil
		e.flushLocked(uri, st)
		e.mu.Unlock()
	})
}

// flushLocked builds and emits the merged publishDiagnostics for uri.
// Caller holds e.mu.
func (e *Engine) flushLocked(uri string, st *uriState) {
	indices := make([]int, 0, len(st.perServer))
	for idx := range st.perServer {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	merged := "[]"
	maxVersion := 0
	allVersioned := len(indices) > 0
	for _, idx := range indices {
		sd := st.perServer[idx]
		if !sd.hasVersion {
			allVersioned = false
		} else if sd.version > maxVersion {
			maxVersion = sd.version
		}
		for _, item := range jsonpath.GetList(sd.items, "@this") {
			var err error
			merged, err = appendArray(merged, item.Raw)
			if err != nil {
				continue
			}
		}
	}

	params, _ := jsonpath.Set([]byte("{}"), "uri", uri)
	params, _ = jsonpath.SetRaw(params, "diagnostics", merged)
	if allVersioned {
		params, _ = jsonpath.Set(params, "version", maxVersion)
	}

	e.emit(message.NewNotification("textDocument/publishDiagnostics", params))
}

// appendArray appends item (raw JSON) to arrayJSON (a raw JSON array),
// using sjson's "-1" path to mean "append a new element".
func appendArray(arrayJSON string, item string) (string, error) {
	out, err := jsonpath.SetRaw([]byte(arrayJSON), "-1", item)
	if err != nil {
		return arrayJSON, err
	}
	return string(out), nil
}

// FlushAll flushes every URI's current state immediately, bypassing the
// coalescing window — used on shutdown (spec.md §4.4: "always flush on
// shutdown").
func (e *Engine) FlushAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for uri, st := range e.perURI {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		e.flushLocked(uri, st)
	}
}
