package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Overlay holds deployment-time defaults read from an optional TOML file.
// It exists so operators can check in a non-secret baseline (model choice,
// step/token limits) without env vars for every field; it is never required
// and the core's Load never reads it implicitly.
type Overlay struct {
	LLMModel           string `toml:"llm_model"`
	AgentMaxSteps      int    `toml:"agent_max_steps"`
	TokenLimit         int    `toml:"token_limit"`
	SpawnAgentMaxDepth int    `toml:"spawn_agent_max_depth"`
	EnableMCP          bool   `toml:"enable_mcp"`
	MCPConfigPath      string `toml:"mcp_config_path"`
	EnableSandbox      bool   `toml:"enable_sandbox"`
	SandboxTTLSeconds  int    `toml:"sandbox_ttl_seconds"`
}

// LoadOverlay reads a TOML overlay file at path. A missing file is not an
// error: it returns a zero Overlay, which ApplyOverlay treats as a no-op, so
// callers can apply it unconditionally.
func LoadOverlay(path string) (Overlay, error) {
	var o Overlay
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}
	if err := toml.Unmarshal(data, &o); err != nil {
		return o, err
	}
	return o, nil
}

// ApplyOverlay returns a copy of cfg with any zero-valued field replaced by
// the corresponding Overlay value; fields already set in cfg are kept.
// Load sets LLMModel and every numeric field to a default when its
// variable is unset, so applied to Load's result the overlay can only
// supply MCPConfigPath and switch on EnableMCP or EnableSandbox; it does
// not override Load's defaults.
func ApplyOverlay(cfg Config, o Overlay) Config {
	if cfg.LLMModel == "" {
		cfg.LLMModel = o.LLMModel
	}
	if cfg.AgentMaxSteps == 0 {
		cfg.AgentMaxSteps = o.AgentMaxSteps
	}
	if cfg.TokenLimit == 0 {
		cfg.TokenLimit = o.TokenLimit
	}
	if cfg.SpawnAgentMaxDepth == 0 {
		cfg.SpawnAgentMaxDepth = o.SpawnAgentMaxDepth
	}
	if !cfg.EnableMCP {
		cfg.EnableMCP = o.EnableMCP
	}
	if cfg.MCPConfigPath == "" {
		cfg.MCPConfigPath = o.MCPConfigPath
	}
	if !cfg.EnableSandbox {
		cfg.EnableSandbox = o.EnableSandbox
	}
	if cfg.SandboxTTLSeconds == 0 {
		cfg.SandboxTTLSeconds = o.SandboxTTLSeconds
	}
	return cfg
}
