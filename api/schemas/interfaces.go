package schemas

import (
	"context"
	"errors"
	"time"
)

// -- LLM Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Element grounding and state checks.
	TierPowerful ModelTier = "powerful" // Planning and next-action decisions.
)

// GenerationOptions controls sampling and output format of one generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// ImageAttachment is an image sent alongside the user prompt, typically a screenshot.
type ImageAttachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, any images, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []ImageAttachment `json:"-"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Browser Interface --

// NavigationResult is returned by a completed navigation.
type NavigationResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Errors a BrowserPage wraps so callers can classify failures without parsing messages.
var (
	ErrElementNotFound  = errors.New("element not found")
	ErrNavigationFailed = errors.New("navigation failed")
)

// BrowserPage is the set of page operations the executor grounds actions onto.
// Selectors are CSS, except the "text='...'" form which matches visible text.
type BrowserPage interface {
	Navigate(ctx context.Context, url string) (NavigationResult, error)
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, clearFirst bool) error
	PressKey(ctx context.Context, key string) error
	SelectOption(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, direction string, pixels int) error
	ScrollIntoView(ctx context.Context, selector string) error

	IsVisible(ctx context.Context, selector string) (bool, error)
	WaitFor(ctx context.Context, conditions []string, timeout time.Duration) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageState(ctx context.Context) (*PageState, error)
}
