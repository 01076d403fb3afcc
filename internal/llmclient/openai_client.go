// internal/llmclient/openai_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
)

// OpenAIClient implements schemas.LLMClient against an OpenAI-compatible
// chat-completions endpoint. Ollama is served by the same client.
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	newBackOff func() backoff.BackOff
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// -- Chat Completions Request/Response Structures (Internal to this file) --

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []chatContentPart
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequestPayload struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    *float64            `json:"temperature,omitempty"`
	TopP           float64             `json:"top_p,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponsePayload struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client. An API key is required for OpenAI but
// optional for Ollama.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
		if cfg.Provider == config.ProviderOllama {
			base = defaultOllamaBaseURL
		}
	}
	if cfg.APIKey == "" && cfg.Provider != config.ProviderOllama {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   base + "/chat/completions",
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llm_client.openai").With(zap.String("model", cfg.Model)),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Generate sends the prompts to the chat-completions API and returns the content with retries.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload chatResponsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(payload.Choices) == 0 || strings.TrimSpace(payload.Choices[0].Message.Content) == "" {
			return backoff.Permanent(llmutil.ErrEmptyResponse)
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int("images", len(req.Images)),
			zap.Int("prompt_tokens", payload.Usage.PromptTokens),
			zap.Int("completion_tokens", payload.Usage.CompletionTokens),
			zap.Int("total_tokens", payload.Usage.TotalTokens),
		)

		responseContent = payload.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close releases idle keep-alive connections.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// supportsJSONMode reports whether the model accepts response_format. The o1 family does not.
func (c *OpenAIClient) supportsJSONMode() bool {
	return !strings.HasPrefix(strings.ToLower(c.config.Model), "o1")
}

func (c *OpenAIClient) buildRequestPayload(req schemas.GenerationRequest) chatRequestPayload {
	temperature := req.Options.Temperature
	if temperature == 0 && c.config.Temperature != 0 {
		temperature = float64(c.config.Temperature)
	}
	topP := req.Options.TopP
	if topP == 0 {
		topP = float64(c.config.TopP)
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userContent(req)})

	payload := chatRequestPayload{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: &temperature,
		TopP:        topP,
		MaxTokens:   c.config.MaxTokens,
	}
	if req.Options.ForceJSONFormat && c.supportsJSONMode() {
		payload.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}
	return payload
}

// userContent returns plain text when there are no images, otherwise multimodal parts
// with each image inlined as a data URL.
func userContent(req schemas.GenerationRequest) interface{} {
	if len(req.Images) == 0 {
		return req.UserPrompt
	}
	parts := []chatContentPart{{Type: "text", Text: req.UserPrompt}}
	for _, img := range req.Images {
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, chatContentPart{
			Type: "image_url",
			ImageURL: &chatImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data)),
				Detail: "high",
			},
		})
	}
	return parts
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("OpenAI API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("openai API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
