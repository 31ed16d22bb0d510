package grpcsink

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentrun/agentrun/runlog"
	"github.com/agentrun/agentrun/runlog/inmem"
)

func dialBufconn(t *testing.T, store runlog.Store) (*Client, func()) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterSinkServer(srv, NewStoreSink(store))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)

	client, err := NewClient(conn)
	require.NoError(t, err)

	return client, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestClientAppendAndListRoundTripOverGRPC(t *testing.T) {
	store := inmem.New()
	client, closeFn := dialBufconn(t, store)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := &runlog.Event{
		RunID:     "run-1",
		SessionID: "session-1",
		Type:      runlog.TypeStep,
		Payload:   json.RawMessage(`{"ok":true}`),
		Timestamp: time.Now(),
	}
	require.NoError(t, client.Append(ctx, e))
	assert.NotEmpty(t, e.ID)

	page, err := client.List(ctx, "run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "run-1", page.Events[0].RunID)
	assert.Equal(t, runlog.TypeStep, page.Events[0].Type)
}

func TestClientListRequiresRunID(t *testing.T) {
	store := inmem.New()
	client, closeFn := dialBufconn(t, store)
	defer closeFn()

	_, err := client.List(context.Background(), "", "", 10)
	assert.Error(t, err)
}
