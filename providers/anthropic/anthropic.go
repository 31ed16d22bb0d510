// Package anthropic exposes the teacher's features/model/anthropic adapter
// under the providers/* naming convention shared by providers/openai and
// providers/bedrock, so the top-level providers package can construct all
// three concrete clients the same way.
package anthropic

import (
	teacheranthropic "github.com/agentrun/agentrun/features/model/anthropic"
)

type (
	// Client implements model.Client on top of Anthropic Claude Messages.
	Client = teacheranthropic.Client

	// Options configures the Anthropic adapter.
	Options = teacheranthropic.Options

	// MessagesClient is the subset of the Anthropic SDK client the adapter needs.
	MessagesClient = teacheranthropic.MessagesClient
)

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	return teacheranthropic.New(msg, opts)
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	return teacheranthropic.NewFromAPIKey(apiKey, defaultModel)
}
