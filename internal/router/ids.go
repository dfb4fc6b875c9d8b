// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sync/atomic"

	"github.com/rass-lsp/rass/internal/message"
)

// idSpace mints the two families of proxy-originated ids from spec.md §3:
// client-bound ids, used when a server issues a request that the proxy
// forwards to the client under a fresh id; and server-bound ids, used
// when the Router itself originates a request to a server. The only such
// request is the shutdown sent to each live server when the client
// transport ends (onClientGone); it is not tracked in the pending tables.
type idSpace struct {
	clientBound atomic.Int64
	serverBound atomic.Int64
}

func (s *idSpace) nextClientBound() message.ID {
	return message.NewIntID(s.clientBound.Add(1))
}

func (s *idSpace) nextServerBound() message.ID {
	return message.NewIntID(s.serverBound.Add(1))
}

func idKey(raw []byte) string {
	return string(raw)
}
