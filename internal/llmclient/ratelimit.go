package llmclient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// RateLimitedClient gates calls to an underlying client through a token bucket.
type RateLimitedClient struct {
	inner   schemas.LLMClient
	limiter *rate.Limiter
}

var _ schemas.LLMClient = (*RateLimitedClient)(nil)

// NewRateLimitedClient allows requestsPerSecond calls with a burst of one.
func NewRateLimitedClient(inner schemas.LLMClient, requestsPerSecond float64) *RateLimitedClient {
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Generate waits for a token (or ctx) before delegating.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return c.inner.Generate(ctx, req)
}

// Close closes the underlying client.
func (c *RateLimitedClient) Close() error { return c.inner.Close() }
