// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

// contentGenerator is the slice of the genai SDK the client uses; *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient on top of the Google GenAI SDK.
type GeminiClient struct {
	models     contentGenerator
	logger     *zap.Logger
	config     config.LLMModelConfig
	newBackOff func() backoff.BackOff
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the SDK client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiClientWithGenerator(client.Models, cfg, logger), nil
}

func newGeminiClientWithGenerator(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models: models,
		config: cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			b.MaxInterval = 15 * time.Second
			return b
		},
	}
}

// Generate sends the request through the SDK with retries and returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{c.buildUserContent(req)}
	genConfig := c.buildGenerationConfig(req)

	var responseContent string
	operation := func() error {
		startTime := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Gemini request failed, retrying...", zap.Error(err))
			return fmt.Errorf("gemini API error: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		if reason := resp.Candidates[0].FinishReason; reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
			return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
		}

		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return backoff.Permanent(llmutil.ErrEmptyResponse)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(startTime)), zap.Int("images", len(req.Images))}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		responseContent = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildUserContent(req schemas.GenerationRequest) *genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, img := range req.Images {
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP := float32(req.Options.TopP); topP > 0 {
		genConfig.TopP = genai.Ptr(topP)
	} else if c.config.TopP > 0 {
		genConfig.TopP = genai.Ptr(c.config.TopP)
	}
	if topK := req.Options.TopK; topK > 0 {
		genConfig.TopK = genai.Ptr(float32(topK))
	} else if c.config.TopK > 0 {
		genConfig.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if c.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}
	return genConfig
}
