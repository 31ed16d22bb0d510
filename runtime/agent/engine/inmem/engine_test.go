package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runtime/agent/engine"
)

func TestActivityExecution(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "test_activity",
		Handler: func(ctx context.Context, input any) (any, error) {
			return input.(string) + "-done", nil
		},
	})
	require.NoError(t, err)

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out string
			if err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{
				Name:  "test_activity",
				Input: input,
			}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	})
	require.NoError(t, err)

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-1",
		Workflow: "test_workflow",
		Input:    "hello",
	})
	require.NoError(t, err)

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, "hello-done", result)
}

func TestActivityAsyncFuture(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "test_tool",
		Handler: func(ctx context.Context, input any) (any, error) {
			return 42, nil
		},
	})
	require.NoError(t, err)

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			fut, err2 := wfCtx.ExecuteActivityAsync(wfCtx.Context(), engine.ActivityRequest{Name: "test_tool"})
			if err2 != nil {
				return nil, err2
			}
			var out int
			if err2 := fut.Get(wfCtx.Context(), &out); err2 != nil {
				return nil, err2
			}
			return out, nil
		},
	})
	require.NoError(t, err)

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-2",
		Workflow: "test_workflow",
	})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, 42, result)
}

func TestSignalDelivery(t *testing.T) {
	eng := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var msg string
			if err2 := wfCtx.SignalChannel("greet").Receive(wfCtx.Context(), &msg); err2 != nil {
				return nil, err2
			}
			return msg, nil
		},
	})
	require.NoError(t, err)

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-3",
		Workflow: "test_workflow",
	})
	require.NoError(t, err)

	require.NoError(t, handle.Signal(ctx, "greet", "hello"))

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, "hello", result)
}

func TestSignalReceiveAsync(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "test_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			ch := wfCtx.SignalChannel("pause")
			var dest string
			ok := ch.ReceiveAsync(&dest)
			return ok, nil
		},
	})
	require.NoError(t, err)

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "test-run-4",
		Workflow: "test_workflow",
	})
	require.NoError(t, err)

	var result bool
	require.NoError(t, handle.Wait(ctx, &result))
	assert.False(t, result)
}
