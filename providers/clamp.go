package providers

import (
	"context"

	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/runtime/agent/telemetry"
)

// clampClient caps Request.MaxTokens to the provider's known ceiling before
// delegating, logging the clamp once per call that triggers it.
type clampClient struct {
	next     model.Client
	provider string
	ceiling  int
	logger   telemetry.Logger
}

func withMaxTokenClamp(next model.Client, provider string, logger telemetry.Logger) model.Client {
	ceiling := maxTokenCeiling[provider]
	if ceiling <= 0 {
		return next
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &clampClient{next: next, provider: provider, ceiling: ceiling, logger: logger}
}

func (c *clampClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.next.Complete(ctx, c.clamp(ctx, req))
}

func (c *clampClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return c.next.Stream(ctx, c.clamp(ctx, req))
}

func (c *clampClient) clamp(ctx context.Context, req *model.Request) *model.Request {
	if req == nil || req.MaxTokens <= c.ceiling {
		return req
	}
	c.logger.Info(ctx, "max_tokens exceeds provider ceiling, clamping",
		"provider", c.provider, "requested", req.MaxTokens, "ceiling", c.ceiling)
	clamped := *req
	clamped.MaxTokens = c.ceiling
	return &clamped
}
