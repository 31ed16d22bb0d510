package tokenaccount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runtime/agent/model"
)

func TestHeuristicCounterIncludesPerMessageOverhead(t *testing.T) {
	c := HeuristicCounter{}

	empty := c.Count(nil)
	require.Equal(t, 0, empty)

	withOneEmptyMessage := c.Count([]*model.Message{
		{Role: model.ConversationRoleUser, Parts: nil},
	})
	assert.Equal(t, perMessageOverhead, withOneEmptyMessage)
}

func TestHeuristicCounterGrowsWithContent(t *testing.T) {
	c := HeuristicCounter{}
	short := c.Count([]*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
	})
	long := c.Count([]*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hello there, this is a much longer message"}}},
	})
	assert.Greater(t, long, short)
}

func TestHeuristicCounterCountsToolUseAndResults(t *testing.T) {
	c := HeuristicCounter{}
	withTool := c.Count([]*model.Message{
		{
			Role: model.ConversationRoleAssistant,
			Parts: []model.Part{
				model.ToolUsePart{ID: "1", Name: "search", Input: map[string]any{"query": "weather in paris"}},
			},
		},
		{
			Role:  model.ConversationRoleUser,
			Parts: []model.Part{model.ToolResultPart{ToolUseID: "1", Content: "sunny, 20C"}},
		},
	})
	withoutTool := c.Count([]*model.Message{
		{Role: model.ConversationRoleUser, Parts: nil},
		{Role: model.ConversationRoleUser, Parts: nil},
	})
	assert.Greater(t, withTool, withoutTool)
}

func TestForModelFallsBackToHeuristicWhenNoTableRegistered(t *testing.T) {
	counter := ForModel("unregistered-family/some-model")
	_, isHeuristic := counter.(HeuristicCounter)
	assert.True(t, isHeuristic)
}

func TestForModelUsesRegisteredBPETable(t *testing.T) {
	RegisterTable("testfam", map[[2]string]int{
		{"h", "i"}: 0,
	})
	defer delete(bpeTables, "testfam")

	counter := ForModel("testfam/model-x")
	_, isBPE := counter.(*BPECounter)
	require.True(t, isBPE)

	count := counter.Count([]*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
	})
	// "h"+"i" merge into one symbol, so content contributes 1 token plus overhead.
	assert.Equal(t, perMessageOverhead+1, count)
}

func TestFamilyExtractsProviderPrefix(t *testing.T) {
	assert.Equal(t, "anthropic", family("anthropic/claude-3-5-sonnet"))
	assert.Equal(t, "openai", family("openai/gpt-4o"))
	assert.Equal(t, "no-slash", family("no-slash"))
}
