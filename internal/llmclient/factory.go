// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient for a single model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewOpenAIClient(cfg, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderOpenAI, config.ProviderGemini, config.ProviderOllama)
	}
}

// NewRouterFromConfig builds both routing tiers from the named models, wrapping each
// in a rate limiter when a request rate is configured. A model used by both tiers is
// instantiated once.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	var limiter func(schemas.LLMClient) schemas.LLMClient
	if cfg.RequestsPerSecond > 0 {
		limiter = func(c schemas.LLMClient) schemas.LLMClient {
			return NewRateLimitedClient(c, cfg.RequestsPerSecond)
		}
	}

	built := make(map[string]schemas.LLMClient, 2)
	resolve := func(name string) (schemas.LLMClient, error) {
		if client, ok := built[name]; ok {
			return client, nil
		}
		modelCfg, ok := cfg.Models[name]
		if !ok {
			return nil, fmt.Errorf("model %q is not defined under llm.models", name)
		}
		client, err := NewClient(ctx, modelCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model %q: %w", name, err)
		}
		if limiter != nil {
			client = limiter(client)
		}
		built[name] = client
		return client, nil
	}

	fast, err := resolve(cfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful, err := resolve(cfg.DefaultPowerfulModel)
	if err != nil {
		_ = fast.Close()
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}
