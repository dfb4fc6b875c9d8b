// SPDX-License-Identifier: Apache-2.0

// Package message defines the JSON-RPC 2.0 message envelope rass routes:
// a tagged union of Request, Response, and Notification, matching the
// data model in spec.md §3.
package message

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire-level JSON-RPC 2.0 message. Exactly one of the
// (Method) or (Result, Error) groups is meaningful depending on Kind.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes used by the router.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeRequestCancelled is LSP's $/cancelRequest error code (spec.md §4.3).
	CodeRequestCancelled = -32800
)

// Kind classifies a decoded Envelope.
type Kind int

const (
	// KindInvalid marks an envelope that is none of the three shapes below.
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// ID is a JSON-RPC id: a string or an integer, carried as raw JSON so it
// round-trips byte-for-byte and can be compared/used as a map key via
// String().
type ID struct {
	raw json.RawMessage
}

// NewIntID builds an ID from an integer, as minted ids are.
func NewIntID(n int64) ID {
	return ID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

// NewStringID builds an ID from a string.
func NewStringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: b}
}

// IDFromRaw wraps a raw JSON id value (as read off the wire) without
// re-encoding it, preserving the client's original representation.
func IDFromRaw(raw json.RawMessage) ID {
	return ID{raw: raw}
}

// IsZero reports whether the ID was never set (e.g. a notification).
func (id ID) IsZero() bool {
	return len(id.raw) == 0
}

// Raw returns the underlying JSON bytes for re-serialization.
func (id ID) Raw() json.RawMessage {
	return id.raw
}

// String returns a stable, comparable string form suitable for map keys.
func (id ID) String() string {
	return string(id.raw)
}

// Kind classifies the envelope per spec.md §3: a Request has a non-null id
// and a method; a Response has a non-null id and no method; a Notification
// has a method and no id.
func (m *Envelope) Kind() Kind {
	hasID := len(m.ID) > 0 && string(m.ID) != "null"
	hasMethod := m.Method != ""
	hasResult := m.Result != nil || m.Error != nil

	switch {
	case hasID && hasMethod:
		return KindRequest
	case hasID && hasResult && !hasMethod:
		return KindResponse
	case !hasID && hasMethod:
		return KindNotification
	default:
		return KindInvalid
	}
}

// Validate enforces the jsonrpc version and message shape per spec.md §4.1.
// A violation here is a framing error: the caller should treat it as fatal
// for the originating endpoint.
func (m *Envelope) Validate() error {
	if m.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version %q, want \"2.0\"", m.JSONRPC)
	}
	if m.Kind() == KindInvalid {
		return fmt.Errorf("message is neither a request, response, nor notification")
	}
	return nil
}

// NewRequest builds a request Envelope.
func NewRequest(id ID, method string, params json.RawMessage) *Envelope {
	return &Envelope{JSONRPC: "2.0", ID: id.Raw(), Method: method, Params: params}
}

// NewNotification builds a notification Envelope.
func NewNotification(method string, params json.RawMessage) *Envelope {
	return &Envelope{JSONRPC: "2.0", Method: method, Params: params}
}

// NewResult builds a successful response Envelope.
func NewResult(id ID, result json.RawMessage) *Envelope {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Envelope{JSONRPC: "2.0", ID: id.Raw(), Result: result}
}

// NewError builds an error response Envelope.
func NewError(id ID, code int, msg string, data json.RawMessage) *Envelope {
	return &Envelope{JSONRPC: "2.0", ID: id.Raw(), Error: &RPCError{Code: code, Message: msg, Data: data}}
}

// WithID returns a copy of the envelope with a different id. Used by the
// router to translate ids across the client/server boundary (spec.md §3
// IdSpace / Id translation).
func (m *Envelope) WithID(id ID) *Envelope {
	cp := *m
	cp.ID = id.Raw()
	return &cp
}
