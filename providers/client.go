package providers

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"go.temporal.io/sdk/client"

	"github.com/agentrun/agentrun/config"
	"github.com/agentrun/agentrun/features/model/middleware"
	"github.com/agentrun/agentrun/providers/anthropic"
	"github.com/agentrun/agentrun/providers/bedrock"
	"github.com/agentrun/agentrun/providers/openai"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/runtime/agent/telemetry"
)

// Bedrock carries the AWS-specific dependencies the bedrock adapter needs.
// It has no env-var equivalent (there is no standard "AWS access key"
// environment variable in spec.md's configuration surface) so callers
// construct it explicitly, typically from aws-sdk-go-v2's own environment
// credential chain.
type Bedrock struct {
	Runtime  *bedrockruntime.Client
	Temporal client.Client
}

// Options configures New beyond what config.Config carries.
type Options struct {
	// Logger receives clamp and retry diagnostics. Defaults to a no-op logger.
	Logger telemetry.Logger

	// Bedrock supplies the AWS runtime client when the resolved provider is
	// "bedrock". Required only when cfg.LLMModel canonicalizes to bedrock.
	Bedrock Bedrock

	// RateLimitTPM is the initial tokens-per-minute budget passed to the
	// per-provider adaptive rate limiter. Zero uses the limiter's own default.
	RateLimitTPM float64
}

// New resolves cfg.LLMModel to a provider via Canonicalize, constructs the
// matching concrete adapter from cfg.LLMAPIKey/cfg.LLMAPIBase, and wraps it
// with the max-token ceiling clamp, exponential-backoff retry, and an
// adaptive per-provider rate limiter, in that order (clamp closest to the
// wire, limiter outermost so it also governs the time spent inside retries).
func New(ctx context.Context, cfg config.Config, opts Options) (model.Client, error) {
	provider, modelID := Canonicalize(cfg.LLMModel)

	base, err := newBaseClient(provider, modelID, cfg, opts)
	if err != nil {
		return nil, err
	}

	wrapped := withMaxTokenClamp(base, provider, opts.Logger)
	wrapped = withRetry(wrapped, provider, opts.Logger)

	limiter := middleware.NewAdaptiveRateLimiter(ctx, nil, "", opts.RateLimitTPM, 0)
	wrapped = limiter.Middleware()(wrapped)

	return wrapped, nil
}

func newBaseClient(provider, modelID string, cfg config.Config, opts Options) (model.Client, error) {
	switch provider {
	case "anthropic":
		ac := anthropicsdk.NewClient(anthropicOptionsFor(cfg)...)
		return anthropic.New(&ac.Messages, anthropic.Options{DefaultModel: modelID})
	case "openai":
		oc := openaisdk.NewClient(openaiOptionsFor(cfg)...)
		return openai.New(&oc.Chat.Completions, openai.Options{DefaultModel: modelID})
	case "bedrock":
		if opts.Bedrock.Runtime == nil {
			return nil, errors.New("providers: bedrock runtime client is required when LLM_MODEL resolves to bedrock")
		}
		return bedrock.New(opts.Bedrock.Runtime, bedrock.Options{DefaultModel: modelID}, opts.Bedrock.Temporal)
	default:
		return nil, fmt.Errorf("providers: unsupported provider %q", provider)
	}
}

func anthropicOptionsFor(cfg config.Config) []anthropicoption.RequestOption {
	var reqOpts []anthropicoption.RequestOption
	if cfg.LLMAPIKey != "" {
		reqOpts = append(reqOpts, anthropicoption.WithAPIKey(cfg.LLMAPIKey))
	}
	if cfg.LLMAPIBase != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(cfg.LLMAPIBase))
	}
	return reqOpts
}

func openaiOptionsFor(cfg config.Config) []openaioption.RequestOption {
	var reqOpts []openaioption.RequestOption
	if cfg.LLMAPIKey != "" {
		reqOpts = append(reqOpts, openaioption.WithAPIKey(cfg.LLMAPIKey))
	}
	if cfg.LLMAPIBase != "" {
		reqOpts = append(reqOpts, openaioption.WithBaseURL(cfg.LLMAPIBase))
	}
	return reqOpts
}
