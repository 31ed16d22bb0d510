package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentrun/agentrun/session"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else if port, err := testRedisContainer.MappedPort(ctx, "6379"); err != nil {
			skipIntegration = true
		} else {
			testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
			if err := testRedisClient.Ping(ctx).Err(); err != nil {
				skipIntegration = true
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

// getRedis returns the shared Redis client and flushes the database for
// test isolation. Skips the test if Docker/Redis is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sess-1", "alice", "support chat")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, first.Status)

	second, err := store.GetOrCreate(ctx, "sess-1", "bob", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "alice", second.Owner)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestGetOrCreateRejectsEndedSession(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	first, err := store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)
	second, err := store.EndSession(ctx, "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt.Unix(), second.EndedAt.Unix())
}

func TestAppendRunAndListRunsFiltersByStatus(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	require.NoError(t, store.AppendRun(ctx, "sess-1", session.RunRecord{
		RunID: "r1", Task: "t1", FinalResponse: "a1", Status: session.RunStatusCompleted,
	}))
	require.NoError(t, store.AppendRun(ctx, "sess-1", session.RunRecord{
		RunID: "r2", Task: "t2", FinalResponse: "a2", Status: session.RunStatusFailed,
	}))

	all, err := store.ListRuns(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].RunID)

	failed, err := store.ListRuns(ctx, "sess-1", []session.RunStatus{session.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r2", failed[0].RunID)
}

func TestAppendRunRejectsEndedSession(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)

	err = store.AppendRun(ctx, "sess-1", session.RunRecord{RunID: "r1"})
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestStateRoundTripsAndDefaultsEmpty(t *testing.T) {
	store, err := New(getRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	got, err := store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SetState(ctx, "sess-1", map[string]any{"budget_used": 3.5}))
	got, err = store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got["budget_used"], 0.0001)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
