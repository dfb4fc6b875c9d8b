// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rass-lsp/rass/internal/message"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := New(&buf, &buf, nil)

	req := message.NewRequest(message.NewIntID(1), "initialize", json.RawMessage(`{"x":1}`))
	require.NoError(t, tr.WriteMessage(req))

	got, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "initialize", got.Method)
	assert.Equal(t, message.KindRequest, got.Kind())
}

func TestReadMessageCleanEOF(t *testing.T) {
	t.Parallel()

	tr := New(strings.NewReader(""), io.Discard, nil)
	_, err := tr.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageMissingContentLength(t *testing.T) {
	t.Parallel()

	raw := "X-Something: yes\r\n\r\n"
	tr := New(strings.NewReader(raw), io.Discard, nil)
	_, err := tr.ReadMessage()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestReadMessageTruncatedBody(t *testing.T) {
	t.Parallel()

	raw := "Content-Length: 50\r\n\r\n{\"jsonrpc\":\"2.0\"}"
	tr := New(strings.NewReader(raw), io.Discard, nil)
	_, err := tr.ReadMessage()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestReadMessageBadJSONRPCVersion(t *testing.T) {
	t.Parallel()

	body := `{"jsonrpc":"1.0","id":1,"method":"foo"}`
	raw := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	tr := New(strings.NewReader(raw), io.Discard, nil)
	_, err := tr.ReadMessage()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestHeaderNamesCaseInsensitiveAndUnknownIgnored(t *testing.T) {
	t.Parallel()

	body := `{"jsonrpc":"2.0","method":"initialized"}`
	raw := "content-LENGTH: " + strconv.Itoa(len(body)) + "\r\nX-Custom: ignored\r\n\r\n" + body
	tr := New(strings.NewReader(raw), io.Discard, nil)
	got, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, message.KindNotification, got.Kind())
}

func TestMultipleMessagesInSequence(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := New(&buf, &buf, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.WriteMessage(message.NewNotification("textDocument/didOpen", nil)))
	}

	for i := 0; i < 3; i++ {
		got, err := tr.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "textDocument/didOpen", got.Method)
	}

	_, err := tr.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}
