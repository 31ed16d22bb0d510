package toolregistry

import (
	"context"
	"encoding/json"
)

// NativeFunc is the signature of an in-process tool implementation. args is
// the raw, already-schema-validated JSON payload; the returned string
// becomes ToolResult.Content on success.
type NativeFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Native is a Tool backed by an in-process Go function.
type Native struct {
	Name                    string
	Description             string
	Parameters              json.RawMessage
	Instructions            string
	AddInstructionsToPrompt bool
	Func                    NativeFunc
}

// Descriptor implements Tool.
func (n *Native) Descriptor() Descriptor {
	return Descriptor{
		Name:                    n.Name,
		Description:             n.Description,
		Parameters:              n.Parameters,
		Source:                  SourceNative,
		Instructions:            n.Instructions,
		AddInstructionsToPrompt: n.AddInstructionsToPrompt,
	}
}

// Invoke implements Tool by calling Func. A non-nil error from Func is
// translated into a failed ToolResult by the Registry, not here, so Native
// itself may simply propagate it.
func (n *Native) Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	content, err := n.Func(ctx, args)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Success: true, Content: content}, nil
}
