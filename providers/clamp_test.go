package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runtime/agent/model"
)

type recordingModelClient struct {
	lastReq *model.Request
}

func (r *recordingModelClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	r.lastReq = req
	return &model.Response{}, nil
}

func (r *recordingModelClient) Stream(_ context.Context, req *model.Request) (model.Streamer, error) {
	r.lastReq = req
	return nil, nil
}

func TestClampCapsMaxTokensToProviderCeiling(t *testing.T) {
	rec := &recordingModelClient{}
	c := withMaxTokenClamp(rec, "openai", nil)

	_, err := c.Complete(context.Background(), &model.Request{MaxTokens: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, maxTokenCeiling["openai"], rec.lastReq.MaxTokens)
}

func TestClampLeavesRequestUnchangedWhenUnderCeiling(t *testing.T) {
	rec := &recordingModelClient{}
	c := withMaxTokenClamp(rec, "anthropic", nil)

	req := &model.Request{MaxTokens: 4096}
	_, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4096, rec.lastReq.MaxTokens)
}

func TestClampNoOpForUnknownProvider(t *testing.T) {
	rec := &recordingModelClient{}
	c := withMaxTokenClamp(rec, "unknown-provider", nil)
	assert.Same(t, rec, c)
}
