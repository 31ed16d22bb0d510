package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerRecordsStampedEvents(t *testing.T) {
	sink := NewMemorySink().(*memorySink)
	tr := NewTracer(sink, "trace-1")
	ctx := context.Background()

	require.NoError(t, tr.WorkflowStart(ctx, "run-1", map[string]string{"task": "root"}))
	require.NoError(t, tr.Delegation(ctx, "run-1", "run-2", map[string]string{"member": "researcher"}))
	require.NoError(t, tr.AgentStart(ctx, "run-2", "run-1", nil))
	require.NoError(t, tr.AgentEnd(ctx, "run-2", "run-1", nil))
	require.NoError(t, tr.WorkflowEnd(ctx, "run-1", nil))

	events := sink.Events()
	require.Len(t, events, 5)
	for _, e := range events {
		assert.Equal(t, "trace-1", e.TraceID)
	}
	assert.Equal(t, EventWorkflowStart, events[0].EventType)
	assert.Equal(t, EventDelegation, events[1].EventType)
	assert.Equal(t, "run-1", events[1].ParentRunID)
	assert.Equal(t, "run-2", events[1].RunID)
	assert.Equal(t, EventWorkflowEnd, events[4].EventType)
}

func TestNilSinkTracerIsNoOp(t *testing.T) {
	tr := NewTracer(nil, "trace-1")
	assert.NoError(t, tr.WorkflowStart(context.Background(), "run-1", nil))
}

func TestNilTracerIsNoOp(t *testing.T) {
	var tr *Tracer
	assert.NoError(t, tr.WorkflowStart(context.Background(), "run-1", nil))
}
