// SPDX-License-Identifier: Apache-2.0

// Package frame implements the length-prefixed JSON-RPC wire framing
// described in spec.md §4.1: an HTTP-style header block terminated by an
// empty line, followed by exactly Content-Length bytes of UTF-8 JSON.
//
// Framing is hand-rolled rather than delegated to golang.org/x/exp/jsonrpc2
// (see DESIGN.md) because spec.md's error taxonomy distinguishes a
// FramingError (fatal to the endpoint, and to the whole process if the
// endpoint is the client) from a ProtocolError (logged and dropped) in a
// way that library's generic stream codec does not expose.
package frame

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rass-lsp/rass/internal/message"
)

// FramingError marks a malformed header, missing Content-Length, truncated
// body, or non-JSON body — spec.md §4.1 / §7 taxonomy item 1.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("framing error: %s", e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

func newFramingError(reason string, err error) *FramingError {
	return &FramingError{Reason: reason, Err: err}
}

const contentLengthHeader = "content-length"

// Transport reads and writes framed JSON-RPC messages over a byte stream.
// It is ignorant of LSP; it only knows about JSON-RPC envelopes.
//
// A Transport is safe for concurrent use: reads and writes may happen
// from different goroutines, matching the teacher's stdio transport shape
// (one goroutine drains, another may write).
type Transport struct {
	r *bufio.Reader
	w io.Writer

	writeMu sync.Mutex
	closer  io.Closer
}

// New wraps an io.Reader/io.Writer pair (and an optional io.Closer, closed
// by Close) as a framed Transport.
func New(r io.Reader, w io.Writer, closer io.Closer) *Transport {
	return &Transport{r: bufio.NewReader(r), w: w, closer: closer}
}

// ReadMessage reads and decodes a single framed JSON-RPC message. It
// returns io.EOF on a clean stream close, or a *FramingError for any
// malformed frame.
func (t *Transport) ReadMessage() (*message.Envelope, error) {
	headers, err := t.readHeaders()
	if err != nil {
		return nil, err
	}

	lengthStr, ok := headers[contentLengthHeader]
	if !ok {
		return nil, newFramingError("missing Content-Length header", nil)
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < 0 {
		return nil, newFramingError(fmt.Sprintf("invalid Content-Length %q", lengthStr), err)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(t.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newFramingError("truncated body", err)
		}
		return nil, err
	}

	var env message.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newFramingError("body is not valid JSON", err)
	}
	if err := env.Validate(); err != nil {
		return nil, newFramingError(err.Error(), nil)
	}

	return &env, nil
}

// readHeaders reads the `\r\n`-terminated header block up to (and
// consuming) the blank line that ends it. Header names are matched
// case-insensitively; values are trimmed; unknown headers are ignored.
func (t *Transport) readHeaders() (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := t.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" && len(headers) == 0 {
				return nil, io.EOF
			}
			return nil, newFramingError("error reading header line", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, newFramingError(fmt.Sprintf("malformed header %q", line), nil)
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
}

// WriteMessage serializes and frames a single message, with no trailing
// newline after the body, per spec.md §4.1.
func (t *Transport) WriteMessage(env *message.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(t.w, header); err != nil {
		return err
	}
	_, err = t.w.Write(body)
	return err
}

// Close releases the underlying stream, if one was supplied.
func (t *Transport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
