package openai

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runtime/agent/model"
)

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, _ sdk.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	return nil
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					Message:      sdk.ChatCompletionMessage{Content: "hi there"},
					FinishReason: "stop",
				},
			},
			Usage: sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o", MaxTokens: 256})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	part, ok := resp.Content[0].Parts[0].(model.TextPart)
	require.True(t, ok)
	assert.Equal(t, "hi there", part.Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	cl, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestCompleteTranslatesToolCalls(t *testing.T) {
	stub := &stubChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					Message: sdk.ChatCompletionMessage{
						ToolCalls: []sdk.ChatCompletionMessageToolCall{
							{
								ID: "call_1",
								Function: sdk.ChatCompletionMessageToolCallFunction{
									Name:      "search",
									Arguments: `{"q":"weather"}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}},
		},
		Tools: []*model.ToolDefinition{
			{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", string(resp.ToolCalls[0].Name))
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"q":"weather"}`, string(resp.ToolCalls[0].Payload))
}

func TestSanitizeToolNameStripsNamespace(t *testing.T) {
	assert.Equal(t, "search", sanitizeToolName("web.search"))
}

func TestSanitizeToolNameReplacesDisallowedRunes(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeToolName("a b+c"))
}
