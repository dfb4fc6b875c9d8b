// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rass-lsp/rass/internal/message"
)

func TestDefaultPolicyRegistered(t *testing.T) {
	p, err := New("default", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name())
}

func TestUnknownLogicClassIsError(t *testing.T) {
	_, err := New("nope", 0, 2)
	assert.Error(t, err)
}

func TestRouteClientRequestTable(t *testing.T) {
	p := NewDefault(0, 2)

	r := p.RouteClientRequest("initialize")
	assert.Equal(t, BroadcastRequest, r.Kind)

	r = p.RouteClientRequest("textDocument/rename")
	assert.Equal(t, PickFirstCapable, r.Kind)
	assert.True(t, r.RequireCapability)
	assert.Equal(t, "renameProvider", r.CapabilityField)

	r = p.RouteClientRequest("textDocument/definition")
	assert.Equal(t, BroadcastRequest, r.Kind)
	assert.Equal(t, "null", string(r.EmptyResult))

	r = p.RouteClientRequest("some/unknownMethod")
	assert.Equal(t, PickFirstCapable, r.Kind)
	assert.False(t, r.RequireCapability)
}

func TestRouteClientNotificationDefaultsToBroadcast(t *testing.T) {
	p := NewDefault(0, 2)
	assert.Equal(t, BroadcastNotification, p.RouteClientNotification("textDocument/didOpen").Kind)
	assert.Equal(t, DropSilently, p.RouteClientNotification("$/cancelRequest").Kind)
}

func TestRouteServerNotificationDiagnosticsDoNotPassThrough(t *testing.T) {
	p := NewDefault(0, 2)
	assert.False(t, p.RouteServerNotification("textDocument/publishDiagnostics").Forward)
	pt := p.RouteServerNotification("window/showMessage")
	assert.True(t, pt.Forward)
	assert.True(t, pt.TagWithServerName)
	assert.True(t, p.RouteServerNotification("textDocument/foobar").Forward)
}

func TestObserveInitializeResultAndIsCapable(t *testing.T) {
	p := NewDefault(0, 2)
	p.ObserveInitializeResult(0, 0, []byte(`{
		"capabilities": {"renameProvider": true, "hoverProvider": false},
		"serverInfo": {"name": "primary-ls", "version": "1.0"}
	}`))
	p.ObserveInitializeResult(1, 0, []byte(`{
		"capabilities": {"hoverProvider": true},
		"serverInfo": {"name": "second-ls"}
	}`))

	assert.True(t, p.IsCapable(0, "renameProvider"))
	assert.False(t, p.IsCapable(0, "hoverProvider"))
	assert.True(t, p.IsCapable(1, "hoverProvider"))
	assert.False(t, p.IsCapable(1, "renameProvider"))
}

func TestMergeInitializeOrsBooleanSubCapabilities(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	p.ObserveInitializeResult(0, 0, []byte(`{"capabilities":{"completionProvider":{"workDoneProgress":false}}}`))
	p.ObserveInitializeResult(1, 0, []byte(`{"capabilities":{"completionProvider":{"workDoneProgress":true}}}`))

	result, rpcErr := p.MergeResponses("initialize", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte(`{"capabilities":{"completionProvider":{"workDoneProgress":false}}}`)},
		1: {Value: []byte(`{"capabilities":{"completionProvider":{"workDoneProgress":true}}}`)},
	})
	require.Nil(t, rpcErr)
	assert.Contains(t, string(result), `"workDoneProgress":true`)
}

func TestMergeInitializeOrsBareBooleanCapabilities(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	p.ObserveInitializeResult(0, 0, []byte(`{"capabilities":{"experimentalFeature":false}}`))
	p.ObserveInitializeResult(1, 0, []byte(`{"capabilities":{"experimentalFeature":true}}`))

	result, _ := p.MergeResponses("initialize", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte(`{"capabilities":{"experimentalFeature":false}}`)},
		1: {Value: []byte(`{"capabilities":{"experimentalFeature":true}}`)},
	})
	assert.Contains(t, string(result), `"experimentalFeature":true`)
}

func TestMergeInitializeConcatenatesServerInfoPrimaryFirst(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	p.ObserveInitializeResult(0, 0, []byte(`{"capabilities":{"renameProvider":true},"serverInfo":{"name":"gopls","version":"0.1"}}`))
	p.ObserveInitializeResult(1, 0, []byte(`{"capabilities":{"hoverProvider":true},"serverInfo":{"name":"rust-analyzer"}}`))

	result, rpcErr := p.MergeResponses("initialize", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte(`{"capabilities":{"renameProvider":true},"serverInfo":{"name":"gopls","version":"0.1"}}`)},
		1: {Value: []byte(`{"capabilities":{"hoverProvider":true},"serverInfo":{"name":"rust-analyzer"}}`)},
	})
	require.Nil(t, rpcErr)
	assert.Contains(t, string(result), `"name":"gopls+rust-analyzer"`)
	assert.Contains(t, string(result), `"version":"0.1"`)
	assert.Contains(t, string(result), `"renameProvider":true`)
	assert.Contains(t, string(result), `"hoverProvider":true`)
}

func TestMergeInitializeJoinsNamesAndVersionsPrimaryFirst(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	p.ObserveInitializeResult(0, 0, []byte(`{"capabilities":{},"serverInfo":{"name":"gopls","version":"0.1"}}`))
	p.ObserveInitializeResult(1, 0, []byte(`{"capabilities":{},"serverInfo":{"name":"rust-analyzer","version":"2.0"}}`))

	result, _ := p.MergeResponses("initialize", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte(`{}`)},
		1: {Value: []byte(`{}`)},
	})
	assert.Contains(t, string(result), `"name":"gopls+rust-analyzer"`)
	assert.Contains(t, string(result), `"version":"0.1,2.0"`)
}

func TestMergeInitializeFallsBackWhenPrimarySilent(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	p.ObserveInitializeResult(1, 0, []byte(`{"capabilities":{"hoverProvider":true},"serverInfo":{"name":"rust-analyzer"}}`))

	result, _ := p.MergeResponses("initialize", 0, []int{1}, map[int]Result{
		1: {Value: []byte(`{"capabilities":{"hoverProvider":true},"serverInfo":{"name":"rust-analyzer"}}`)},
	})
	assert.Contains(t, string(result), `"name":"rust-analyzer"`)
}

func TestMergeShutdownSucceedsUnlessAllFail(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	result, rpcErr := p.MergeResponses("shutdown", 0, []int{0, 1}, map[int]Result{
		0: {Err: &message.RPCError{Code: message.CodeInternalError, Message: "boom"}},
		1: {Value: []byte("null")},
	})
	assert.Nil(t, rpcErr)
	assert.Equal(t, "null", string(result))

	_, rpcErr = p.MergeResponses("shutdown", 0, []int{0, 1}, map[int]Result{
		0: {Err: &message.RPCError{Code: message.CodeInternalError, Message: "boom"}},
		1: {Err: &message.RPCError{Code: message.CodeInternalError, Message: "also boom"}},
	})
	assert.NotNil(t, rpcErr)
}

func TestMergeCodeActionConcatenatesPreservingDuplicates(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	result, _ := p.MergeResponses("textDocument/codeAction", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte(`[{"title":"fix"}]`)},
		1: {Value: []byte(`[{"title":"fix"},{"title":"organize imports"}]`)},
	})
	assert.JSONEq(t, `[{"title":"fix"},{"title":"fix"},{"title":"organize imports"}]`, string(result))
}

func TestMergeDefinitionDedupsByLocation(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	loc := `{"uri":"file:///a.go","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":5}}}`
	result, _ := p.MergeResponses("textDocument/definition", 0, []int{0, 1}, map[int]Result{
		0: {Value: []byte("[" + loc + "]")},
		1: {Value: []byte("[" + loc + "]")},
	})
	assert.JSONEq(t, "["+loc+"]", string(result))
}

func TestMergeDefinitionNormalizesSingletonObject(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	loc := `{"uri":"file:///a.go","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":5}}}`
	result, _ := p.MergeResponses("textDocument/definition", 0, []int{0}, map[int]Result{
		0: {Value: []byte(loc)},
	})
	assert.JSONEq(t, "["+loc+"]", string(result))
}

func TestMergeDefinitionEmptyWhenNoResults(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	result, _ := p.MergeResponses("textDocument/definition", 0, nil, map[int]Result{})
	assert.Equal(t, "null", string(result))
}

func TestMergeReferencesEmptyIsArrayNotNull(t *testing.T) {
	p := NewDefault(0, 2).(*defaultPolicy)
	result, _ := p.MergeResponses("textDocument/references", 0, nil, map[int]Result{})
	assert.Equal(t, "[]", string(result))
}
