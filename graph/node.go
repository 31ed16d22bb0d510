package graph

import (
	"context"
	"errors"

	"github.com/agentrun/agentrun/agentloop"
)

// AgentNode wraps an Agent Loop as a graph node: it reads state[InputKey]
// as the user message, runs the loop to completion, and writes the final
// assistant text to state[OutputKey]. PostProcess may inspect the full
// RunResult to contribute extra fields, which must be listed in
// ExtraWrites so Compile can validate their reducers.
type AgentNode struct {
	NodeName    string
	InputKey    string
	OutputKey   string
	Loop        *agentloop.Loop
	Base        agentloop.RunConfig
	ExtraWrites []string
	PostProcess func(result *agentloop.RunResult) State
}

// Name implements Node.
func (n *AgentNode) Name() string { return n.NodeName }

// Writes implements Node.
func (n *AgentNode) Writes() []string {
	return append([]string{n.OutputKey}, n.ExtraWrites...)
}

// Run implements Node.
func (n *AgentNode) Run(ctx context.Context, state State) (State, error) {
	msg, _ := state[n.InputKey].(string)

	cfg := n.Base
	cfg.RunID = n.Base.RunID + "/node/" + n.NodeName

	result, events, err := n.Loop.Run(ctx, msg, cfg)
	go drainGraphAgentEvents(events)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}

	delta := State{n.OutputKey: result.FinalText}
	if n.PostProcess != nil {
		for k, v := range n.PostProcess(result) {
			delta[k] = v
		}
	}
	return delta, nil
}

func drainGraphAgentEvents(events <-chan agentloop.Event) {
	for range events {
	}
}

// FuncNode wraps an arbitrary function as a graph node, for non-agent work
// (data transforms, aggregation, routing-only steps with no LLM call).
type FuncNode struct {
	NodeName  string
	WriteKeys []string
	Func      func(ctx context.Context, state State) (State, error)
}

// Name implements Node.
func (n *FuncNode) Name() string { return n.NodeName }

// Writes implements Node.
func (n *FuncNode) Writes() []string { return n.WriteKeys }

// Run implements Node.
func (n *FuncNode) Run(ctx context.Context, state State) (State, error) {
	if n.Func == nil {
		return nil, errors.New("graph: FuncNode has no Func")
	}
	return n.Func(ctx, state)
}
