// SPDX-License-Identifier: Apache-2.0

package router

import (
	"time"

	"github.com/rass-lsp/rass/internal/policy"
)

// pendingClientRequest is spec.md §3's PendingClientRequest: created when
// the client issues a request answered by one or more servers.
type pendingClientRequest struct {
	clientID    []byte
	method      string
	route       policy.Route
	outstanding map[int]bool
	collected   map[int]policy.Result
	addressed   []int
	timer       *time.Timer
}

func newPendingClientRequest(clientID []byte, method string, route policy.Route, addressed []int) *pendingClientRequest {
	outstanding := make(map[int]bool, len(addressed))
	for _, idx := range addressed {
		outstanding[idx] = true
	}
	return &pendingClientRequest{
		clientID:    clientID,
		method:      method,
		route:       route,
		outstanding: outstanding,
		collected:   make(map[int]policy.Result, len(addressed)),
		addressed:   addressed,
	}
}

// pendingServerRequest is spec.md §3's PendingServerRequest: created when
// a server issues a request that the proxy forwards to the client under
// a minted id.
type pendingServerRequest struct {
	serverIndex int
	originalID  []byte
}

// pendingTables holds both pending maps. It exists only to give the
// Router a single struct-embeddable place for them; all access happens
// from the Router's single event-loop goroutine (spec.md §5), so no
// locking is needed.
type pendingTables struct {
	clientRequests map[string]*pendingClientRequest
	serverRequests map[string]*pendingServerRequest
}

func newPendingTables() pendingTables {
	return pendingTables{
		clientRequests: make(map[string]*pendingClientRequest),
		serverRequests: make(map[string]*pendingServerRequest),
	}
}
