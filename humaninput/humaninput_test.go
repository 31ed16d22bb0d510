package humaninput

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/toolregistry"
)

func TestToolDescriptorIsSourceNative(t *testing.T) {
	var tool Tool
	d := tool.Descriptor()
	assert.Equal(t, ToolName, d.Name)
	assert.Equal(t, toolregistry.SourceNative, d.Source)
}

func TestToolInvokeReturnsInputRequest(t *testing.T) {
	var tool Tool
	args := json.RawMessage(`{
		"fields": [
			{"name": "city", "type": "string", "description": "destination city"},
			{"name": "nights", "type": "int", "description": "length of stay"}
		],
		"context": "need trip details to search flights"
	}`)

	result, err := tool.Invoke(context.Background(), args)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.InputRequest)

	assert.Equal(t, "need trip details to search flights", result.InputRequest.Context)
	require.Len(t, result.InputRequest.Fields, 2)
	assert.Equal(t, toolregistry.InputField{Name: "city", Type: toolregistry.InputFieldString, Description: "destination city"}, result.InputRequest.Fields[0])
	assert.Equal(t, toolregistry.InputFieldInt, result.InputRequest.Fields[1].Type)
}

func TestToolInvokeFailsClosedOnEmptyFields(t *testing.T) {
	var tool Tool
	result, err := tool.Invoke(context.Background(), json.RawMessage(`{"fields": []}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "fields must not be empty")
}

func TestToolInvokeFailsClosedOnMalformedArgs(t *testing.T) {
	var tool Tool
	result, err := tool.Invoke(context.Background(), json.RawMessage(`not json`))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestResumeBuildsSyntheticToolResultMessage(t *testing.T) {
	req := Resume(Answer{
		ToolCallID: "call-1",
		Values:     map[string]any{"city": "Lisbon", "nights": 3},
	}, "let's continue")

	require.Len(t, req.Messages, 2)

	toolMsg := req.Messages[0]
	assert.Equal(t, model.ConversationRoleUser, toolMsg.Role)
	require.Len(t, toolMsg.Parts, 1)
	part, ok := toolMsg.Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "call-1", part.ToolUseID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(part.Content.(string)), &decoded))
	assert.Equal(t, "Lisbon", decoded["city"])
	assert.Equal(t, float64(3), decoded["nights"])

	followUp := req.Messages[1]
	assert.Equal(t, model.ConversationRoleUser, followUp.Role)
	textPart, ok := followUp.Parts[0].(model.TextPart)
	require.True(t, ok)
	assert.Equal(t, "let's continue", textPart.Text)
}
