package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// setupRouter creates a standard LLMRouter instance for testing, along with its mocks and a log observer.
func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := setupTestLogger(t)

	fastClient := &MockLLMClient{Name: "FastClient"}
	powerfulClient := &MockLLMClient{Name: "PowerfulClient"}

	router, err := NewLLMRouter(logger, fastClient, powerfulClient)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")
	return router, fastClient, powerfulClient, logs
}

func TestNewLLMRouter_Failure_MissingClients(t *testing.T) {
	logger, _ := setupTestLogger(t)
	validClient := new(MockLLMClient)

	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"missing fast", nil, validClient},
		{"missing powerful", validClient, nil},
		{"missing both", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(logger, tt.fast, tt.powerful)
			assert.Nil(t, router)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "both fast and powerful tier clients must be provided")
		})
	}
}

func TestLLMRouter_Generate_RoutesByTier(t *testing.T) {
	ctx := context.Background()

	t.Run("fast tier", func(t *testing.T) {
		router, fast, powerful, logs := setupRouter(t)
		req := schemas.GenerationRequest{UserPrompt: "pick element", Tier: schemas.TierFast}
		fast.On("Generate", ctx, req).Return("fast answer", nil).Once()

		resp, err := router.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "fast answer", resp)
		fast.AssertExpectations(t)
		powerful.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		assert.Equal(t, 1, logs.FilterMessage("Routing LLM request").Len())
	})

	t.Run("default tier is powerful", func(t *testing.T) {
		router, fast, powerful, _ := setupRouter(t)
		req := schemas.GenerationRequest{UserPrompt: "plan"}
		powerful.On("Generate", ctx, req).Return("plan answer", nil).Once()

		resp, err := router.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "plan answer", resp)
		fast.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("unknown tier", func(t *testing.T) {
		router, _, _, _ := setupRouter(t)
		_, err := router.Generate(ctx, schemas.GenerationRequest{Tier: "experimental"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no LLM client configured for tier: experimental")
	})

	t.Run("propagates client errors", func(t *testing.T) {
		router, _, powerful, _ := setupRouter(t)
		boom := errors.New("quota exceeded")
		powerful.On("Generate", ctx, mock.Anything).Return("", boom).Once()

		_, err := router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierPowerful})
		assert.ErrorIs(t, err, boom)
	})
}

func TestLLMRouter_Close(t *testing.T) {
	t.Run("closes both tiers", func(t *testing.T) {
		router, fast, powerful, _ := setupRouter(t)
		fast.On("Close").Return(nil).Once()
		powerful.On("Close").Return(errors.New("close failed")).Once()

		err := router.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closing powerful tier client")
		fast.AssertExpectations(t)
		powerful.AssertExpectations(t)
	})

	t.Run("shared client closed once", func(t *testing.T) {
		logger, _ := setupTestLogger(t)
		shared := &MockLLMClient{Name: "Shared"}
		shared.On("Close").Return(nil).Once()

		router, err := NewLLMRouter(logger, shared, shared)
		require.NoError(t, err)
		require.NoError(t, router.Close())
		shared.AssertNumberOfCalls(t, "Close", 1)
	})
}
