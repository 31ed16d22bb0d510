package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	clearAgentrunEnv(t)
	cfg := Load()
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.LLMModel)
	assert.Equal(t, 50, cfg.AgentMaxSteps)
	assert.Equal(t, 120_000, cfg.TokenLimit)
	assert.Equal(t, 3, cfg.SpawnAgentMaxDepth)
	assert.False(t, cfg.EnableMCP)
	assert.Equal(t, 3600, cfg.SandboxTTLSeconds)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearAgentrunEnv(t)
	t.Setenv("LLM_MODEL", "openai/gpt-4o")
	t.Setenv("AGENT_MAX_STEPS", "10")
	t.Setenv("ENABLE_MCP", "true")

	cfg := Load()
	assert.Equal(t, "openai/gpt-4o", cfg.LLMModel)
	assert.Equal(t, 10, cfg.AgentMaxSteps)
	assert.True(t, cfg.EnableMCP)
}

func TestLoadIgnoresUnparseableInts(t *testing.T) {
	clearAgentrunEnv(t)
	t.Setenv("AGENT_MAX_STEPS", "not-a-number")
	cfg := Load()
	assert.Equal(t, 50, cfg.AgentMaxSteps)
}

func TestLoadOverlayMissingFileReturnsZeroValue(t *testing.T) {
	o, err := LoadOverlay(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Overlay{}, o)
}

func TestLoadOverlayParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrun.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm_model = "bedrock/anthropic.claude-3-5-sonnet"
agent_max_steps = 25
enable_mcp = true
`), 0o644))

	o, err := LoadOverlay(path)
	require.NoError(t, err)
	assert.Equal(t, "bedrock/anthropic.claude-3-5-sonnet", o.LLMModel)
	assert.Equal(t, 25, o.AgentMaxSteps)
	assert.True(t, o.EnableMCP)
}

func TestApplyOverlayOnlyFillsZeroFields(t *testing.T) {
	cfg := Config{LLMModel: "anthropic/claude-sonnet-4", AgentMaxSteps: 0}
	o := Overlay{LLMModel: "openai/gpt-4o", AgentMaxSteps: 99}

	out := ApplyOverlay(cfg, o)
	assert.Equal(t, "anthropic/claude-sonnet-4", out.LLMModel, "existing value must not be overwritten")
	assert.Equal(t, 99, out.AgentMaxSteps, "zero value must be filled from overlay")
}

func clearAgentrunEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_MODEL", "LLM_API_KEY", "LLM_API_BASE", "AGENT_MAX_STEPS",
		"TOKEN_LIMIT", "SPAWN_AGENT_MAX_DEPTH", "ENABLE_MCP", "MCP_CONFIG_PATH",
		"ENABLE_SANDBOX", "SANDBOX_TTL_SECONDS",
	} {
		v, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		if ok {
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}
