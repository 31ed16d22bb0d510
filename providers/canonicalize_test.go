package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeExplicitPrefixWins(t *testing.T) {
	provider, model := Canonicalize("openai/claude-3-5-sonnet")
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "claude-3-5-sonnet", model)
}

func TestCanonicalizeHeuristicBySubstring(t *testing.T) {
	cases := map[string]string{
		"claude-3-5-sonnet": "anthropic",
		"gpt-4o":            "openai",
		"o1-preview":        "openai",
		"o3-mini":           "openai",
		"gemini-1.5-pro":    "gemini",
		"mistral-large":     "mistral",
		"llama-3-70b":       "together",
	}
	for modelID, wantProvider := range cases {
		provider, model := Canonicalize(modelID)
		assert.Equal(t, wantProvider, provider, modelID)
		assert.Equal(t, modelID, model, modelID)
	}
}

func TestCanonicalizeDefaultsToOpenAI(t *testing.T) {
	provider, model := Canonicalize("some-custom-finetune")
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "some-custom-finetune", model)
}

func TestCanonicalizeEmptyModel(t *testing.T) {
	provider, model := Canonicalize("")
	assert.Equal(t, "openai", provider)
	assert.Empty(t, model)
}

func TestCanonicalizeIgnoresUnknownSlashPrefix(t *testing.T) {
	// A Bedrock inference-profile ARN contains '/' but is not a
	// "provider/model" identifier; it must fall through to the heuristic
	// table rather than being mis-split on the first slash.
	provider, model := Canonicalize("arn:aws:bedrock:us-east-1::inference-profile/claude-3-5-sonnet")
	assert.Equal(t, "anthropic", provider)
	assert.Equal(t, "arn:aws:bedrock:us-east-1::inference-profile/claude-3-5-sonnet", model)
}
