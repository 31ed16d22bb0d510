package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrun/agentrun/runtime/agent/engine"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/toolregistry"
)

// The model-complete and tool-invoke steps are registered as engine
// activities rather than called directly from the workflow handler so the
// same workflow body could run unmodified on a durable engine such as
// Temporal, where arbitrary I/O inside a workflow function breaks
// determinism/replay. engine/inmem, the only engine in this tree, has no
// such restriction but uses the activity path all the same.

type (
	modelActivityInput struct {
		Request *model.Request
	}
	modelActivityOutput struct {
		Response *model.Response
	}

	toolActivityInput struct {
		Name string
		Args json.RawMessage
	}
	toolActivityOutput struct {
		Result toolregistry.ToolResult
	}
)

func completeActivityName(runID string) string { return "agentloop.CompleteModel." + runID }
func invokeActivityName(runID string) string    { return "agentloop.InvokeTool." + runID }

// registerRunActivities binds cfg.Model and cfg.Tools into activity
// handlers scoped to this run. Names are suffixed with the run ID: each
// run registers its own handlers rather than sharing a single global one,
// since each run carries its own model client and tool registry.
func registerRunActivities(ctx context.Context, cfg RunConfig) error {
	if err := cfg.Engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: completeActivityName(cfg.RunID),
		Handler: func(ctx context.Context, input any) (any, error) {
			in, ok := input.(modelActivityInput)
			if !ok {
				return nil, fmt.Errorf("agentloop: invalid model activity input %T", input)
			}
			resp, err := cfg.Model.Complete(ctx, in.Request)
			if err != nil {
				return nil, err
			}
			return modelActivityOutput{Response: resp}, nil
		},
	}); err != nil {
		return fmt.Errorf("agentloop: register model activity: %w", err)
	}

	if err := cfg.Engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: invokeActivityName(cfg.RunID),
		Handler: func(ctx context.Context, input any) (any, error) {
			in, ok := input.(toolActivityInput)
			if !ok {
				return nil, fmt.Errorf("agentloop: invalid tool activity input %T", input)
			}
			if cfg.Tools == nil {
				return toolActivityOutput{Result: toolregistry.ToolResult{Success: false, Error: "no tools registered"}}, nil
			}
			return toolActivityOutput{Result: cfg.Tools.Invoke(ctx, in.Name, in.Args)}, nil
		},
	}); err != nil {
		return fmt.Errorf("agentloop: register tool activity: %w", err)
	}

	return nil
}
