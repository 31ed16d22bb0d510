package team

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrun/agentrun/toolregistry"
)

type (
	delegateToMemberRequest struct {
		MemberName string `json:"member_name"`
		Task       string `json:"task"`
	}

	delegateToAllRequest struct {
		Task string `json:"task"`
	}

	// delegateToMemberTool is the leader's delegate_task_to_member tool. It
	// runs the named member to completion as a nested agent loop and folds
	// its final text into the tool result.
	delegateToMemberTool struct {
		team        *Team
		sessionID   string
		leaderRunID string
	}

	// delegateToAllMembersTool is the leader's optional
	// delegate_task_to_all_members tool. It fans the same task out to every
	// configured member concurrently.
	delegateToAllMembersTool struct {
		team        *Team
		sessionID   string
		leaderRunID string
	}
)

const delegateToMemberParameters = `{
	"type": "object",
	"properties": {
		"member_name": {"type": "string", "description": "Name of the team member to delegate the task to."},
		"task": {"type": "string", "description": "The sub-task given to the member."}
	},
	"required": ["member_name", "task"]
}`

const delegateToAllParameters = `{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "The task given to every team member."}
	},
	"required": ["task"]
}`

// Descriptor implements toolregistry.Tool.
func (d *delegateToMemberTool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        "delegate_task_to_member",
		Description: "Delegate a sub-task to one named team member and get back its final answer.",
		Parameters:  json.RawMessage(delegateToMemberParameters),
		Source:      toolregistry.SourceSpawn,
	}
}

// Invoke implements toolregistry.Tool. It fails closed — an unknown member
// name or a member run failure comes back as ToolResult.Error, never a Go
// error, so the leader can retry or continue with a different member.
func (d *delegateToMemberTool) Invoke(ctx context.Context, args json.RawMessage) (toolregistry.ToolResult, error) {
	var req delegateToMemberRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return toolregistry.ToolResult{Success: false, Error: fmt.Sprintf("invalid delegate_task_to_member arguments: %v", err)}, nil
	}
	member, ok := d.team.member(req.MemberName)
	if !ok {
		return toolregistry.ToolResult{Success: false, Error: fmt.Sprintf("unknown team member %q", req.MemberName)}, nil
	}
	text := d.team.runMember(ctx, member, d.sessionID, d.leaderRunID, req.Task)
	return toolregistry.ToolResult{Success: true, Content: text}, nil
}

// Descriptor implements toolregistry.Tool.
func (d *delegateToAllMembersTool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        "delegate_task_to_all_members",
		Description: "Delegate the same task to every team member concurrently and get back their answers, labelled by name.",
		Parameters:  json.RawMessage(delegateToAllParameters),
		Source:      toolregistry.SourceSpawn,
	}
}

// Invoke implements toolregistry.Tool.
func (d *delegateToAllMembersTool) Invoke(ctx context.Context, args json.RawMessage) (toolregistry.ToolResult, error) {
	var req delegateToAllRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return toolregistry.ToolResult{Success: false, Error: fmt.Sprintf("invalid delegate_task_to_all_members arguments: %v", err)}, nil
	}
	text := d.team.runAllMembers(ctx, d.sessionID, d.leaderRunID, req.Task)
	return toolregistry.ToolResult{Success: true, Content: text}, nil
}
