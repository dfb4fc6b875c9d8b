// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rass-lsp/rass/internal/message"
)

func TestLaunchWiresStdioAndRelaysStderr(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	script := `echo "hello from stderr" 1>&2; cat`
	sup, err := Launch(gctx, []Spec{{Command: []string{"sh", "-c", script}}}, false, g)
	require.NoError(t, err)
	require.Len(t, sup.Servers(), 1)

	srv := sup.Servers()[0]
	assert.Equal(t, "sh", srv.Name)

	require.NoError(t, srv.Endpoint.Send(message.NewNotification("ping", nil)))

	gctx2, gcancel2 := context.WithCancel(context.Background())
	defer gcancel2()
	g2, gg2 := errgroup.WithContext(gctx2)
	srv.Endpoint.Start(gg2, g2)

	select {
	case in := <-srv.Endpoint.Inbound:
		require.NoError(t, in.Err)
		assert.Equal(t, "ping", in.Message.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed notification")
	}

	require.NoError(t, sup.KillAll())
}

func TestLaunchFailsOnEmptyCommand(t *testing.T) {
	t.Parallel()
	g, gctx := errgroup.WithContext(context.Background())
	_, err := Launch(gctx, []Spec{{Command: nil}}, true, g)
	assert.Error(t, err)
}

func TestServerBaseNameIndexesSecondaries(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "gopls", serverBaseName("/usr/bin/gopls", 0))
	assert.Equal(t, "gopls#1", serverBaseName("/usr/bin/gopls", 1))
}

func TestWaitAnyReportsIndexOfExitedServer(t *testing.T) {
	t.Parallel()
	g, gctx := errgroup.WithContext(context.Background())
	sup, err := Launch(gctx, []Spec{
		{Command: []string{"sh", "-c", "sleep 30"}},
		{Command: []string{"sh", "-c", "exit 1"}},
	}, true, g)
	require.NoError(t, err)
	defer sup.KillAll()

	idx, waitErr := sup.WaitAny(context.Background())
	assert.Equal(t, 1, idx)
	assert.Error(t, waitErr)
}

func TestWaitAnyReturnsNegativeOneWhenContextEndsFirst(t *testing.T) {
	t.Parallel()
	g, gctx := errgroup.WithContext(context.Background())
	sup, err := Launch(gctx, []Spec{{Command: []string{"sh", "-c", "sleep 30"}}}, true, g)
	require.NoError(t, err)
	defer sup.KillAll()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	idx, waitErr := sup.WaitAny(ctx)
	assert.Equal(t, -1, idx)
	assert.Error(t, waitErr)
}

func TestGracefulStopKillsStragglers(t *testing.T) {
	t.Parallel()
	g, gctx := errgroup.WithContext(context.Background())
	sup, err := Launch(gctx, []Spec{{Command: []string{"sh", "-c", "sleep 30"}}}, true, g)
	require.NoError(t, err)

	err = sup.GracefulStop(50 * time.Millisecond)
	assert.NoError(t, err)
}
