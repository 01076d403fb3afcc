package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
	Name string
}

// Generate mocks the Generate method.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks the Close method.
func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// fastBackOff retries quickly and gives up after a handful of attempts.
func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 3)
}

// getValidOpenAIConfig returns a valid LLMModelConfig for testing purposes.
func getValidOpenAIConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    config.ProviderOpenAI,
		APIKey:      "test-api-key",
		Model:       "gpt-4o",
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   256,
	}
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You are an expert web automation planner.",
		UserPrompt:   "Plan: open example.com",
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true},
	}
}
