// Package providers wires the concrete provider adapters
// (providers/anthropic, providers/openai, providers/bedrock) behind a single
// model.Client, decides which adapter a given model identifier routes to, and
// wraps the chosen adapter with the retry and rate-limiting behavior the core
// loop expects from any LLM call regardless of provider.
package providers

import "strings"

// Canonicalize maps a bare or already-prefixed model identifier to a
// "provider/model" pair. The table is consulted left-to-right: an explicit
// "provider/" prefix always wins; otherwise the identifier is matched by
// substring against a fixed heuristic table; the final fallback is openai.
//
// New calls it to choose the adapter; no other package in the module calls
// it.
func Canonicalize(modelID string) (provider, model string) {
	if modelID == "" {
		return "openai", ""
	}
	if provider, model, ok := splitExplicitPrefix(modelID); ok {
		return provider, model
	}
	lower := strings.ToLower(modelID)
	for _, rule := range heuristics {
		if strings.Contains(lower, rule.substr) {
			return rule.provider, modelID
		}
	}
	return "openai", modelID
}

var heuristics = []struct {
	substr   string
	provider string
}{
	{"claude", "anthropic"},
	{"gpt", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"gemini", "gemini"},
	{"mistral", "mistral"},
	{"llama", "together"},
}

// knownProviders lists the provider prefixes recognized by splitExplicitPrefix.
// Any other "word/rest" identifier is treated as having no explicit prefix
// (for example a Bedrock inference profile ARN containing a literal '/').
var knownProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"bedrock":   true,
	"gemini":    true,
	"mistral":   true,
	"together":  true,
}

func splitExplicitPrefix(modelID string) (provider, model string, ok bool) {
	idx := strings.Index(modelID, "/")
	if idx <= 0 || idx == len(modelID)-1 {
		return "", "", false
	}
	prefix := strings.ToLower(modelID[:idx])
	if !knownProviders[prefix] {
		return "", "", false
	}
	return prefix, modelID[idx+1:], true
}

// maxTokenCeiling is the known per-model-family output-token ceiling,
// consulted by withMaxTokenClamp. Entries are looked up by provider
// since exact per-model ceilings change too often to hardcode per model ID.
var maxTokenCeiling = map[string]int{
	"anthropic": 64000,
	"openai":    16384,
	"bedrock":   64000,
	"gemini":    8192,
	"mistral":   8192,
	"together":  4096,
}
