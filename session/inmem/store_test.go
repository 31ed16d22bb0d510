package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/session"
)

func TestGetOrCreateIsIdempotentForActiveSessions(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sess-1", "alice", "support chat")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, first.Status)

	second, err := store.GetOrCreate(ctx, "sess-1", "bob", "ignored")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "alice", second.Owner)
}

func TestGetOrCreateRejectsEndedSession(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)

	_, err = store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)

	first, err := store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)
	second, err := store.EndSession(ctx, "sess-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt, second.EndedAt)
}

func TestEndSessionRequiresExistingSession(t *testing.T) {
	store := New()
	_, err := store.EndSession(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestAppendRunAndListRunsPreservesOrderAndIsolatesMutation(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)

	record := session.RunRecord{RunID: "r1", Task: "t1", FinalResponse: "a1", Status: session.RunStatusCompleted}
	require.NoError(t, store.AppendRun(ctx, "sess-1", record))
	record.FinalResponse = "mutated after append"
	require.NoError(t, store.AppendRun(ctx, "sess-1", session.RunRecord{RunID: "r2", Task: "t2", Status: session.RunStatusFailed}))

	runs, err := store.ListRuns(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a1", runs[0].FinalResponse)
	assert.Equal(t, "r2", runs[1].RunID)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.AppendRun(ctx, "sess-1", session.RunRecord{RunID: "r1", Status: session.RunStatusCompleted}))
	require.NoError(t, store.AppendRun(ctx, "sess-1", session.RunRecord{RunID: "r2", Status: session.RunStatusFailed}))

	runs, err := store.ListRuns(ctx, "sess-1", []session.RunStatus{session.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].RunID)
}

func TestAppendRunRejectsEndedSession(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = store.EndSession(ctx, "sess-1", time.Now())
	require.NoError(t, err)

	err = store.AppendRun(ctx, "sess-1", session.RunRecord{RunID: "r1"})
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestStateRoundTripsAndDefaultsEmpty(t *testing.T) {
	store := New()
	ctx := context.Background()

	got, err := store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.SetState(ctx, "sess-1", map[string]any{"budget_used": 3.5}))
	got, err = store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3.5, got["budget_used"])

	got["budget_used"] = 99.0
	reread, err := store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3.5, reread["budget_used"], "mutating a returned state map must not affect the store")
}
