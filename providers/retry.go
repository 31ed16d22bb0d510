package providers

import (
	"context"
	"errors"
	"time"

	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/runtime/agent/telemetry"
)

// retryClient wraps a model.Client with exponential backoff for
// transport/5xx failures. 4xx failures (ProviderErrorKindAuth,
// ProviderErrorKindInvalidRequest) are surfaced on the first attempt with no
// retry, matching the teacher's ProviderError.Retryable() classification.
type retryClient struct {
	next     model.Client
	provider string
	logger   telemetry.Logger
	delays   []time.Duration
}

// backoffSchedule is the five-attempt 100ms->3.2s exponential sequence: the
// four waits between five attempts (the second doubles the first, and each
// later wait is four times the one before).
var backoffSchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	800 * time.Millisecond,
	3200 * time.Millisecond,
}

func withRetry(next model.Client, provider string, logger telemetry.Logger) model.Client {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &retryClient{next: next, provider: provider, logger: logger, delays: backoffSchedule}
}

func (c *retryClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	var resp *model.Response
	err := c.attempt(ctx, req, func() error {
		var attemptErr error
		resp, attemptErr = c.next.Complete(ctx, req)
		return attemptErr
	})
	return resp, err
}

func (c *retryClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	var s model.Streamer
	err := c.attempt(ctx, req, func() error {
		var attemptErr error
		s, attemptErr = c.next.Stream(ctx, req)
		return attemptErr
	})
	return s, err
}

func (c *retryClient) attempt(ctx context.Context, req *model.Request, call func() error) error {
	var lastErr error
	for i := 0; ; i++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if i >= len(c.delays) {
			return lastErr
		}
		c.logger.Warn(ctx, "provider call failed, retrying",
			"provider", c.provider, "attempt", i+1, "delay_ms", c.delays[i].Milliseconds(), "error", lastErr.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delays[i]):
		}
	}
}

// isRetryable reports whether err is a transport/5xx/rate-limit failure that
// is worth retrying. Invalid-request and auth failures are never retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	if pe, ok := model.AsProviderError(err); ok {
		switch pe.Kind() {
		case model.ProviderErrorKindAuth, model.ProviderErrorKindInvalidRequest:
			return false
		case model.ProviderErrorKindRateLimited, model.ProviderErrorKindUnavailable:
			return true
		default:
			return pe.Retryable()
		}
	}
	// Unclassified errors (network failures surfaced directly by an SDK,
	// without going through model.NewProviderError) are treated as
	// transport failures and retried; this matches the teacher's adapters,
	// which wrap only rate-limit errors explicitly and let the SDK's own
	// transport errors pass through unclassified.
	return true
}
