package agentloop

import (
	"encoding/json"

	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/runtime/agent/stream"
	"github.com/agentrun/agentrun/toolregistry"
)

// EventType enumerates the internal observability events a Run emits.
// This is the complete stream (→ a run logger); ToStreamEvents narrows it
// to the subset clients should see.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventAssistantChunk EventType = "assistant_chunk"
	EventToolStart      EventType = "tool_start"
	EventToolEnd        EventType = "tool_end"
	EventUsage          EventType = "usage"
	EventPaused         EventType = "paused"
	EventInputRequested EventType = "input_requested"
	EventDone           EventType = "done"
)

// Event is one step of internal agent-loop observability. It mirrors the
// teacher's split between a complete hook event stream (this type) and a
// narrower client-facing projection (ToStreamEvents produces
// runtime/agent/stream.Event values from it).
type Event struct {
	Type      EventType
	RunID     string
	SessionID string
	State     State

	// Text carries assistant reply text for EventAssistantChunk and the
	// pause reason for EventPaused.
	Text string

	ToolCallID string
	ToolName   string
	Payload    json.RawMessage
	Result     toolregistry.ToolResult

	// InputRequest is set for EventInputRequested, carrying the field
	// descriptors and context the caller must answer to resume the run.
	InputRequest *toolregistry.InputRequest

	Usage model.TokenUsage
	Err   error
}

// ToStreamEvents projects the internal Event stream into client-facing
// stream.Event values, dropping events with no client-facing analog
// (state transitions and pauses; stream consumers see
// tool_start/tool_end/assistant_reply/usage/user_input_required/workflow
// instead).
func ToStreamEvents(events []Event) []stream.Event {
	out := make([]stream.Event, 0, len(events))
	for _, e := range events {
		if se, ok := toStreamEvent(e); ok {
			out = append(out, se)
		}
	}
	return out
}

func toStreamEvent(e Event) (stream.Event, bool) {
	switch e.Type {
	case EventAssistantChunk:
		return &stream.AssistantReply{
			Base: stream.NewBase(stream.EventAssistantReply, e.RunID, e.SessionID, stream.AssistantReplyPayload{Text: e.Text}),
			Data: stream.AssistantReplyPayload{Text: e.Text},
		}, true
	case EventToolStart:
		data := stream.ToolStartPayload{ToolCallID: e.ToolCallID, ToolName: e.ToolName, Payload: e.Payload}
		return &stream.ToolStart{Base: stream.NewBase(stream.EventToolStart, e.RunID, e.SessionID, data), Data: data}, true
	case EventToolEnd:
		data := stream.ToolEndPayload{ToolCallID: e.ToolCallID, ToolName: e.ToolName}
		if e.Result.Success {
			data.Result = json.RawMessage(jsonString(e.Result.Content))
			data.ResultPreview = e.Result.Content
		} else {
			data.ResultPreview = e.Result.Error
		}
		return &stream.ToolEnd{Base: stream.NewBase(stream.EventToolEnd, e.RunID, e.SessionID, data), Data: data}, true
	case EventUsage:
		data := stream.UsagePayload{TokenUsage: e.Usage}
		return &stream.Usage{Base: stream.NewBase(stream.EventUsage, e.RunID, e.SessionID, data), Data: data}, true
	case EventInputRequested:
		fields := make([]stream.InputFieldPayload, 0, len(e.InputRequest.Fields))
		for _, f := range e.InputRequest.Fields {
			fields = append(fields, stream.InputFieldPayload{Name: f.Name, Type: string(f.Type), Description: f.Description})
		}
		data := stream.UserInputRequiredPayload{ToolCallID: e.ToolCallID, Fields: fields, Context: e.InputRequest.Context}
		return &stream.UserInputRequired{Base: stream.NewBase(stream.EventUserInputRequired, e.RunID, e.SessionID, data), Data: data}, true
	case EventDone:
		phase, status := "completed", "success"
		if e.Err != nil {
			phase, status = "failed", "failed"
		} else if e.State == StateDoneMaxSteps {
			status = "max_steps"
		}
		data := stream.WorkflowPayload{Phase: phase, Status: status}
		if e.Err != nil {
			data.DebugError = e.Err.Error()
		}
		return &stream.Workflow{Base: stream.NewBase(stream.EventWorkflow, e.RunID, e.SessionID, data), Data: data}, true
	default:
		return nil, false
	}
}

func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
