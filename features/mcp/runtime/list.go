package runtime

import (
	"context"
	"encoding/json"
)

// ToolInfo describes one tool advertised by an MCP server's tools/list
// response.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// Lister is implemented by Callers that can enumerate the tools their server
// exposes.
type Lister interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
}

// ListTools invokes tools/list over the stdio transport.
func (c *StdioCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListTools invokes tools/list over the HTTP transport.
func (c *HTTPCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.transport.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListTools invokes tools/list over the plain JSON-RPC transport shared with
// HTTPCaller; tools/list responses are small and do not need SSE streaming.
func (c *SSECaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.transport.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}
