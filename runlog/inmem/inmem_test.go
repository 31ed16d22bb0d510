package inmem

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runlog"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := &runlog.Event{RunID: "run-1", Type: runlog.TypeStep, Payload: json.RawMessage(`{"n":1}`)}
	e2 := &runlog.Event{RunID: "run-1", Type: runlog.TypeStep, Payload: json.RawMessage(`{"n":2}`)}

	require.NoError(t, s.Append(ctx, e1))
	require.NoError(t, s.Append(ctx, e2))

	assert.Equal(t, "1", e1.ID)
	assert.Equal(t, "2", e2.ID)
}

func TestAppendRejectsMissingRunID(t *testing.T) {
	s := New()
	err := s.Append(context.Background(), &runlog.Event{Type: runlog.TypeStep})
	assert.Error(t, err)
}

func TestListPaginatesForwardByCursor(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, &runlog.Event{RunID: "run-1", Type: runlog.TypeStep}))
	}

	page, err := s.List(ctx, "run-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "1", page.Events[0].ID)
	assert.Equal(t, "2", page.Events[1].ID)
	assert.Equal(t, "2", page.NextCursor)

	page2, err := s.List(ctx, "run-1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 2)
	assert.Equal(t, "3", page2.Events[0].ID)
	assert.Equal(t, "4", page2.NextCursor)

	page3, err := s.List(ctx, "run-1", page2.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, page3.Events, 1)
	assert.Empty(t, page3.NextCursor)
}

func TestListUnknownRunIsEmpty(t *testing.T) {
	s := New()
	page, err := s.List(context.Background(), "does-not-exist", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}
