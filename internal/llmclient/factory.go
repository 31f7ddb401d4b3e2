// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// NewClient creates one provider-backed LLMClient from a model configuration.
// The retry policy paces transport-level retries for providers that do their
// own retrying.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, retry retrypolicy.Policy, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGenAIClient(ctx, cfg, logger)
	case config.ProviderGeminiHTTP:
		return NewGeminiClient(cfg, retry, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider %q. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGeminiHTTP)
	}
}

// NewRouterFromConfig builds the tiered router from the agent configuration:
// one client per tier, resolved through the named model entries, all sharing
// the agent's retry policy.
func NewRouterFromConfig(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*Router, error) {
	fast, err := clientForModel(ctx, cfg, cfg.LLM.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := clientForModel(ctx, cfg, cfg.LLM.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewRouter(logger, fast, powerful, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
}

func clientForModel(ctx context.Context, cfg config.AgentConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := cfg.LLM.Models[name]
	if !ok {
		return nil, fmt.Errorf("model %q has no configuration entry", name)
	}
	if modelCfg.Model == "" {
		modelCfg.Model = name
	}
	return NewClient(ctx, modelCfg, cfg.Retry, logger)
}
