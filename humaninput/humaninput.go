// Package humaninput implements the get_user_input tool and the bridge that
// answers a run suspended at PAUSED_FOR_INPUT. The tool itself performs no
// I/O: invoking it only packages the model's field request into a
// toolregistry.ToolResult.InputRequest, which the Agent Loop detects and
// reacts to by suspending (see agentloop's StateTools handling). Resuming
// reuses the same SignalResume channel runtime/agent/interrupt already
// exposes for generic workflow pause/resume — PAUSED_FOR_INPUT is a
// specialization of that suspension point, not a new one.
package humaninput

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrun/agentrun/agentloop"
	"github.com/agentrun/agentrun/runtime/agent/interrupt"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/toolregistry"
)

// ToolName is the name the model calls to request clarification.
const ToolName = "get_user_input"

const parameters = `{
  "type": "object",
  "properties": {
    "fields": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string", "enum": ["string", "int", "float", "bool"]},
          "description": {"type": "string"}
        },
        "required": ["name", "type"]
      },
      "minItems": 1
    },
    "context": {"type": "string"}
  },
  "required": ["fields"]
}`

type (
	requestArgs struct {
		Fields  []fieldArg `json:"fields"`
		Context string     `json:"context,omitempty"`
	}

	fieldArg struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}

	// Tool implements toolregistry.Tool. It never fails closed for I/O
	// reasons — there is none — only for a malformed call from the model.
	Tool struct{}
)

// Descriptor implements toolregistry.Tool.
func (Tool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        ToolName,
		Description: "Ask the user to supply one or more named values before continuing. Call this instead of guessing when required information is missing from the conversation.",
		Parameters:  json.RawMessage(parameters),
		Source:      toolregistry.SourceNative,
	}
}

// Invoke implements toolregistry.Tool.
func (Tool) Invoke(ctx context.Context, args json.RawMessage) (toolregistry.ToolResult, error) {
	var req requestArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return toolregistry.ToolResult{Success: false, Error: fmt.Sprintf("get_user_input: %v", err)}, nil
	}
	if len(req.Fields) == 0 {
		return toolregistry.ToolResult{Success: false, Error: "get_user_input: fields must not be empty"}, nil
	}

	fields := make([]toolregistry.InputField, len(req.Fields))
	for i, f := range req.Fields {
		fields[i] = toolregistry.InputField{
			Name:        f.Name,
			Type:        toolregistry.InputFieldType(f.Type),
			Description: f.Description,
		}
	}
	return toolregistry.ToolResult{
		Success:      true,
		InputRequest: &toolregistry.InputRequest{Fields: fields, Context: req.Context},
	}, nil
}

// Answer is the value set a caller supplies for a paused get_user_input call.
type Answer struct {
	ToolCallID string
	Values     map[string]any
}

// Resume builds the interrupt.ResumeRequest that answers a paused
// get_user_input call: a synthetic tool-result message carrying the
// answered values, keyed to ToolCallID, appended to history. followUp adds
// any free-form user text the caller wants the next THINKING step to see
// alongside the answer.
func Resume(ans Answer, followUp ...string) interrupt.ResumeRequest {
	payload, _ := json.Marshal(ans.Values)
	messages := []*model.Message{
		{
			Role: model.ConversationRoleUser,
			Parts: []model.Part{
				model.ToolResultPart{
					ToolUseID: ans.ToolCallID,
					Content:   string(payload),
				},
			},
		},
	}
	for _, text := range followUp {
		messages = append(messages, &model.Message{
			Role:  model.ConversationRoleUser,
			Parts: []model.Part{model.TextPart{Text: text}},
		})
	}
	return interrupt.ResumeRequest{Messages: messages}
}

// Deliver signals a paused run with the answered values. It resumes through
// the run's own RunHandle, so the caller must have started the run with
// agentloop.Loop.Start (not the synchronous Run) in order to hold a handle
// across the pause.
func Deliver(ctx context.Context, handle *agentloop.RunHandle, ans Answer, followUp ...string) error {
	return handle.Signal(ctx, interrupt.SignalResume, Resume(ans, followUp...))
}
