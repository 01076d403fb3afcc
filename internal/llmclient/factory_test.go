package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tandem-cli/internal/config"
)

func TestNewClient(t *testing.T) {
	logger, _ := setupTestLogger(t)
	ctx := context.Background()

	t.Run("openai", func(t *testing.T) {
		client, err := NewClient(ctx, getValidOpenAIConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("ollama", func(t *testing.T) {
		client, err := NewClient(ctx, config.LLMModelConfig{Provider: config.ProviderOllama, Model: "llama3"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("gemini", func(t *testing.T) {
		client, err := NewClient(ctx, geminiTestConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := getValidOpenAIConfig()
		cfg.Provider = "anthropic"
		client, err := NewClient(ctx, cfg, logger)
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown or unsupported LLM provider configured: 'anthropic'")
	})
}

func TestNewRouterFromConfig(t *testing.T) {
	logger, _ := setupTestLogger(t)
	ctx := context.Background()

	models := map[string]config.LLMModelConfig{
		"gpt-4o":      getValidOpenAIConfig(),
		"gpt-4o-mini": {Provider: config.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "k"},
	}

	t.Run("builds both tiers", func(t *testing.T) {
		router, err := NewRouterFromConfig(ctx, config.LLMRouterConfig{
			DefaultFastModel:     "gpt-4o-mini",
			DefaultPowerfulModel: "gpt-4o",
			Models:               models,
		}, logger)
		require.NoError(t, err)
		assert.NotSame(t, router.clients["fast"], router.clients["powerful"])
		assert.IsType(t, &OpenAIClient{}, router.clients["fast"])
	})

	t.Run("shares one client and wraps with the limiter", func(t *testing.T) {
		router, err := NewRouterFromConfig(ctx, config.LLMRouterConfig{
			DefaultFastModel:     "gpt-4o",
			DefaultPowerfulModel: "gpt-4o",
			RequestsPerSecond:    2,
			Models:               models,
		}, logger)
		require.NoError(t, err)
		assert.Same(t, router.clients["fast"], router.clients["powerful"])
		assert.IsType(t, &RateLimitedClient{}, router.clients["fast"])
		assert.NoError(t, router.Close())
	})

	t.Run("undefined model", func(t *testing.T) {
		_, err := NewRouterFromConfig(ctx, config.LLMRouterConfig{
			DefaultFastModel:     "missing",
			DefaultPowerfulModel: "gpt-4o",
			Models:               models,
		}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `model "missing" is not defined under llm.models`)
	})

	t.Run("client construction failure", func(t *testing.T) {
		broken := map[string]config.LLMModelConfig{"gpt-4o": {Provider: config.ProviderOpenAI, Model: "gpt-4o"}}
		_, err := NewRouterFromConfig(ctx, config.LLMRouterConfig{
			DefaultFastModel:     "gpt-4o",
			DefaultPowerfulModel: "gpt-4o",
			Models:               broken,
		}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OpenAI API Key is required")
	})
}
