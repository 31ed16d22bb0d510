// Package config loads runtime configuration from the environment variables
// recognized by the core (see spec.md §6). Configuration-file parsing is an
// external collaborator consumed behind a narrow contract (see LoadOverlay
// in overlay.go); the core's own Load only ever reads the environment.
package config

import (
	"os"
	"strconv"
)

// Config is the runtime configuration recognized by the core.
type Config struct {
	// LLMModel is the default model id, normalized by providers.Canonicalize
	// before use.
	LLMModel string

	// LLMAPIKey and LLMAPIBase are credentials/endpoint for the default
	// provider.
	LLMAPIKey  string
	LLMAPIBase string

	// AgentMaxSteps is the hard ceiling on loop steps.
	AgentMaxSteps int

	// TokenLimit is the default context budget passed to the compactor.
	TokenLimit int

	// SpawnAgentMaxDepth caps spawn_agent recursion.
	SpawnAgentMaxDepth int

	// EnableMCP and MCPConfigPath control dynamic tool loading from the
	// mcpServers document.
	EnableMCP     bool
	MCPConfigPath string

	// EnableSandbox and SandboxTTLSeconds control sandbox tool substitution.
	EnableSandbox     bool
	SandboxTTLSeconds int
}

// Load reads Config from the process environment, applying the defaults
// documented in spec.md §6 for any variable that is unset or unparseable.
func Load() Config {
	return Config{
		LLMModel:           envOr("LLM_MODEL", "anthropic/claude-sonnet-4"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMAPIBase:         os.Getenv("LLM_API_BASE"),
		AgentMaxSteps:      envIntOr("AGENT_MAX_STEPS", 50),
		TokenLimit:         envIntOr("TOKEN_LIMIT", 120_000),
		SpawnAgentMaxDepth: envIntOr("SPAWN_AGENT_MAX_DEPTH", 3),
		EnableMCP:          envBoolOr("ENABLE_MCP", false),
		MCPConfigPath:      envOr("MCP_CONFIG_PATH", ""),
		EnableSandbox:      envBoolOr("ENABLE_SANDBOX", false),
		SandboxTTLSeconds:  envIntOr("SANDBOX_TTL_SECONDS", 3600),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
