// Package mcp loads the mcpServers configuration document and adapts the
// tools each enabled server advertises into toolregistry.Tool values.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	mcpruntime "github.com/agentrun/agentrun/features/mcp/runtime"
	"github.com/agentrun/agentrun/toolregistry"
)

type (
	// ServerConfig describes one entry in the mcpServers document.
	ServerConfig struct {
		Command   string            `yaml:"command" json:"command"`
		Args      []string          `yaml:"args" json:"args"`
		Env       map[string]string `yaml:"env" json:"env"`
		Disabled  bool              `yaml:"disabled" json:"disabled"`
		Transport string            `yaml:"transport" json:"transport"`
		URL       string            `yaml:"url" json:"url"`
	}

	// Document is the root `mcpServers` configuration document. It may be
	// authored as YAML or JSON; JSON is a YAML subset, so both decode
	// through the same struct with yaml.Unmarshal.
	Document struct {
		Servers map[string]ServerConfig `yaml:"mcpServers" json:"mcpServers"`
	}
)

const (
	transportStdio = "stdio"
	transportSSE   = "sse"
	transportHTTP  = "http"
)

// ParseDocument decodes raw as an mcpServers document.
func ParseDocument(raw []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("mcp: parse mcpServers document: %w", err)
	}
	return doc, nil
}

// Dial connects to every enabled server in doc and returns one
// toolregistry.Tool per tool each server advertises, named
// "<server>.<tool>" to avoid cross-server collisions. Servers that fail to
// dial are skipped with an error collected in the returned slice rather than
// aborting discovery for the remaining servers.
func Dial(ctx context.Context, doc Document) ([]toolregistry.Tool, []error) {
	var tools []toolregistry.Tool
	var errs []error

	for name, cfg := range doc.Servers {
		if cfg.Disabled {
			continue
		}
		caller, lister, err := dialServer(ctx, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("mcp: dial server %q: %w", name, err))
			continue
		}
		infos, err := lister.ListTools(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("mcp: list tools for server %q: %w", name, err))
			continue
		}
		for _, info := range infos {
			tools = append(tools, &Tool{
				server: name,
				info:   info,
				caller: caller,
			})
		}
	}
	return tools, errs
}

func dialServer(ctx context.Context, cfg ServerConfig) (mcpruntime.Caller, mcpruntime.Lister, error) {
	transport := cfg.Transport
	if transport == "" {
		transport = transportStdio
	}
	switch transport {
	case transportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		caller, err := mcpruntime.NewStdioCaller(ctx, mcpruntime.StdioOptions{
			Command:     cfg.Command,
			Args:        cfg.Args,
			Env:         env,
			InitTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return caller, caller, nil
	case transportHTTP:
		caller, err := mcpruntime.NewHTTPCaller(ctx, mcpruntime.HTTPOptions{Endpoint: cfg.URL, InitTimeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return caller, caller, nil
	case transportSSE:
		caller, err := mcpruntime.NewSSECaller(ctx, mcpruntime.HTTPOptions{Endpoint: cfg.URL, InitTimeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return caller, caller, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Tool adapts one MCP server tool to toolregistry.Tool.
type Tool struct {
	server string
	info   mcpruntime.ToolInfo
	caller mcpruntime.Caller
}

// Descriptor implements toolregistry.Tool.
func (t *Tool) Descriptor() toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        t.server + "." + t.info.Name,
		Description: t.info.Description,
		Parameters:  t.info.InputSchema,
		Source:      toolregistry.SourceMCP,
	}
}

// Invoke implements toolregistry.Tool by forwarding to the MCP server and
// translating its response into a ToolResult.
func (t *Tool) Invoke(ctx context.Context, args json.RawMessage) (toolregistry.ToolResult, error) {
	resp, err := t.caller.CallTool(ctx, mcpruntime.CallRequest{
		Suite:   t.server,
		Tool:    t.info.Name,
		Payload: args,
	})
	if err != nil {
		return toolregistry.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return toolregistry.ToolResult{Success: true, Content: string(resp.Result)}, nil
}
