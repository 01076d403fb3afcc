package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

func TestRateLimitedClient(t *testing.T) {
	t.Run("spaces out consecutive calls", func(t *testing.T) {
		inner := new(MockLLMClient)
		inner.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
		client := NewRateLimitedClient(inner, 20) // one token every 50ms

		start := time.Now()
		for i := 0; i < 3; i++ {
			resp, err := client.Generate(context.Background(), schemas.GenerationRequest{})
			require.NoError(t, err)
			assert.Equal(t, "ok", resp)
		}
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
		inner.AssertNumberOfCalls(t, "Generate", 3)
	})

	t.Run("honours context cancellation while waiting", func(t *testing.T) {
		inner := new(MockLLMClient)
		inner.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
		client := NewRateLimitedClient(inner, 0.1)

		_, err := client.Generate(context.Background(), schemas.GenerationRequest{})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = client.Generate(ctx, schemas.GenerationRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter wait failed")
		inner.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("close delegates", func(t *testing.T) {
		inner := new(MockLLMClient)
		closeErr := errors.New("closed")
		inner.On("Close").Return(closeErr)
		assert.ErrorIs(t, NewRateLimitedClient(inner, 1).Close(), closeErr)
	})
}
