package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// SpawnRequest is the decoded spawn_agent payload.
	SpawnRequest struct {
		// Task is the initial user message given to the spawned agent.
		Task string `json:"task"`
		// AllowedTools filters the parent's tool set down to this subset for
		// the child run. An empty list means "inherit every tool the parent
		// can see" (still subject to the parent's own policy decision).
		AllowedTools []string `json:"allowed_tools,omitempty"`
	}

	// Runner executes a nested agent run to completion and returns its final
	// assistant text. toolregistry depends only on this narrow interface so
	// it never imports the agent loop package that implements it (Runner is
	// implemented by agentloop.Loop).
	Runner interface {
		RunToCompletion(ctx context.Context, task string, allowedTools []string) (string, error)
	}

	// Spawn is the spawn_agent tool. It runs a nested Agent Loop
	// synchronously to completion and folds its final text into the tool
	// result. Spawn carries the depth of the nested run in the context it
	// passes to Runner, so a spawn_agent call made inside a spawned run
	// counts one level deeper even when the child shares this Spawn value.
	Spawn struct {
		Runner Runner
		// Depth is the spawn depth of a call made from a run that was not
		// itself spawned; a call inside a spawned run is one level deeper
		// than the call that spawned it.
		Depth int
		// MaxDepth is the configured ceiling (default 3 per spec §4.D).
		MaxDepth int
	}
)

const spawnAgentParameters = `{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "The instruction given to the spawned agent."},
		"allowed_tools": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Optional subset of tool names the spawned agent may use."
		}
	},
	"required": ["task"]
}`

// Descriptor implements Tool.
func (s *Spawn) Descriptor() Descriptor {
	return Descriptor{
		Name:        "spawn_agent",
		Description: "Spawn a nested agent to handle a sub-task and return its final answer.",
		Parameters:  json.RawMessage(spawnAgentParameters),
		Source:      SourceSpawn,
	}
}

// Invoke implements Tool. It fails closed (ToolResult.Success=false, nil
// error) rather than propagating an error so a spawn-depth violation never
// aborts the parent run: the parent agent loop continues with the failed
// ToolResult in its transcript.
func (s *Spawn) Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	type depthKey struct{}
	depth := s.Depth
	if parent, ok := ctx.Value(depthKey{}).(int); ok {
		depth = parent + 1
	}
	if depth > s.MaxDepth {
		return ToolResult{Success: false, Error: fmt.Sprintf("spawn_agent depth %d exceeds maximum %d", depth, s.MaxDepth)}, nil
	}

	var req SpawnRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("invalid spawn_agent arguments: %v", err)}, nil
	}

	text, err := s.Runner.RunToCompletion(context.WithValue(ctx, depthKey{}, depth), req.Task, req.AllowedTools)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	return ToolResult{Success: true, Content: text}, nil
}
