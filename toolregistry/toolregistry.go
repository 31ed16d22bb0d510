// Package toolregistry implements the uniform tool dispatch surface: native
// Go functions, dynamically-discovered MCP tools, per-session sandbox
// substitutes, and the recursive spawn_agent tool all satisfy the same Tool
// capability and are invoked through one Registry.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Source names the origin of a registered tool.
	Source string

	// Descriptor is a tool's static metadata, advertised to the model and
	// rendered into the prompt's tool_usage_guidelines section.
	Descriptor struct {
		Name                    string
		Description             string
		Parameters              json.RawMessage
		Source                  Source
		Instructions            string
		AddInstructionsToPrompt bool
	}

	// ToolResult is the outcome of invoking a tool. Content is always a
	// UTF-8 string: tools serialize structured output themselves.
	ToolResult struct {
		Success bool
		Content string
		Error   string

		// InputRequest, when non-nil, flags this result as a clarification
		// request rather than a normal answer: the tool could not complete
		// without more information from the user. The Agent Loop detects
		// this flag and suspends at PAUSED_FOR_INPUT instead of feeding
		// Content/Error back to the model as a tool result.
		InputRequest *InputRequest
	}

	// InputRequest describes the fields a paused tool call needs answered.
	InputRequest struct {
		Fields  []InputField
		Context string
	}

	// InputField describes one requested input value.
	InputField struct {
		Name        string
		Type        InputFieldType
		Description string
	}

	// InputFieldType enumerates the scalar types a requested field may take.
	InputFieldType string

	// Tool is the capability every tool source implements: describe
	// yourself, and execute given validated arguments.
	Tool interface {
		Descriptor() Descriptor
		Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error)
	}

	// entry pairs a Tool with its compiled argument schema (nil when the
	// tool declares no parameters).
	entry struct {
		tool   Tool
		schema *jsonschema.Schema
	}

	// Registry holds the tools reachable by one agent and dispatches calls
	// by name. It is read-mostly after registration and safe for concurrent use; a
	// read/write lock protects the rare dynamic-reconfiguration path (MCP
	// reconnect, sandbox substitution).
	Registry struct {
		mu      sync.RWMutex
		entries map[string]entry
		logger  *slog.Logger
	}
)

const (
	// SourceNative identifies an in-process Go tool.
	SourceNative Source = "native"
	// SourceMCP identifies a tool discovered from an MCP server.
	SourceMCP Source = "mcp"
	// SourceSandbox identifies a per-session sandboxed tool substitute.
	SourceSandbox Source = "sandbox"
	// SourceSpawn identifies the built-in spawn_agent tool.
	SourceSpawn Source = "spawn"

	// InputFieldString requests free text.
	InputFieldString InputFieldType = "string"
	// InputFieldInt requests an integer.
	InputFieldInt InputFieldType = "int"
	// InputFieldFloat requests a floating-point number.
	InputFieldFloat InputFieldType = "float"
	// InputFieldBool requests a boolean.
	InputFieldBool InputFieldType = "bool"
)

// New returns an empty Registry. logger defaults to slog.Default() when nil.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[string]entry), logger: logger}
}

// Register compiles t's parameter schema and adds it to the registry. A name
// collision shadows the earlier registration and logs a warning, per the
// registry's documented load order: native, then MCP, then sandbox
// substitutes, then spawn_agent.
func (r *Registry) Register(t Tool) error {
	desc := t.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("toolregistry: tool has no name")
	}

	schema, err := compileSchema(desc.Parameters)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema for %q: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[desc.Name]; ok {
		r.logger.Warn("tool name collision, shadowing earlier registration",
			"tool", desc.Name, "previous_source", prev.tool.Descriptor().Source, "new_source", desc.Source)
	}
	r.entries[desc.Name] = entry{tool: t, schema: schema}
	return nil
}

// SubstituteSandbox replaces the native tool named name with a sandbox tool
// for the remainder of the registry's lifetime (used for the duration of one
// session registry). It is a no-op, returning false, when name is not
// currently registered as a native tool.
func (r *Registry) SubstituteSandbox(name string, sandboxed Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[name]
	if !ok || prev.tool.Descriptor().Source != SourceNative {
		return false
	}
	schema, err := compileSchema(sandboxed.Descriptor().Parameters)
	if err != nil {
		r.logger.Warn("sandbox substitution schema invalid, keeping native tool", "tool", name, "error", err)
		return false
	}
	r.entries[name] = entry{tool: sandboxed, schema: schema}
	return true
}

// Subset returns a new Registry containing only the named tools, preserving
// their compiled schemas. Unknown names are skipped. An empty names list
// returns an empty registry, not a copy of r: callers that mean "inherit
// everything" should skip calling Subset rather than pass an empty slice.
func (r *Registry) Subset(names []string) *Registry {
	out := New(r.logger)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if e, ok := r.entries[name]; ok {
			out.entries[name] = e
		}
	}
	return out
}

// Descriptors returns every registered tool's Descriptor, sorted by nothing
// in particular; callers that need a stable prompt render should sort by
// name themselves.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool.Descriptor())
	}
	return out
}

// Has reports whether name is currently registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Invoke dispatches name with args. An unknown tool name yields
// ToolResult{Success:false} rather than an error: tool failure is never
// fatal to the agent loop. Argument validation is best-effort: missing
// required fields fail closed without invoking the tool; unknown extra
// fields are passed through unchanged.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) ToolResult {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %s", name)}
	}

	if e.schema != nil {
		var doc any
		if len(args) == 0 {
			doc = map[string]any{}
		} else if err := json.Unmarshal(args, &doc); err != nil {
			return ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments for %s: %v", name, err)}
		}
		if err := e.schema.Validate(doc); err != nil {
			return ToolResult{Success: false, Error: fmt.Sprintf("arguments for %s failed validation: %v", name, err)}
		}
	}

	result, err := e.tool.Invoke(ctx, args)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}
	return result
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}
