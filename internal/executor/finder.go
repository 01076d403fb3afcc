// internal/executor/finder.go
package executor

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/browser"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMinConfidence  = 0.5
	alternativeConfidence = 0.7
)

const finderSystemPrompt = "You are an expert at matching natural language descriptions to web page elements. Always respond with valid JSON only."

// Grounding is a natural-language target resolved to a concrete selector.
type Grounding struct {
	Selector    string              `json:"selector"`
	Element     schemas.ElementInfo `json:"element"`
	Confidence  float64             `json:"confidence"`
	Reasoning   string              `json:"reasoning"`
	Alternative bool                `json:"alternative"`
}

type elementMatch struct {
	Index      *int    `json:"index"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ElementFinder grounds target descriptions onto the page's interactive elements
// by asking the fast model tier to pick one.
type ElementFinder struct {
	llm           schemas.LLMClient
	minConfidence float64
	logger        *zap.Logger
}

// NewElementFinder creates a finder. A non-positive minConfidence means 0.5.
func NewElementFinder(llm schemas.LLMClient, minConfidence float64, logger *zap.Logger) *ElementFinder {
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	return &ElementFinder{llm: llm, minConfidence: minConfidence, logger: logger.Named("element_finder")}
}

// Find picks the element in state that best matches description, optionally
// restricted to the given element types, and checks that it is visible on page.
func (f *ElementFinder) Find(ctx context.Context, page schemas.BrowserPage, state *schemas.PageState, description string, types ...string) (*Grounding, error) {
	candidates := filterElements(state, types)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no interactive elements found on page", schemas.ErrElementNotFound)
	}

	// The model answers with a listed index, so the listing is numbered by position.
	listed := make([]schemas.ElementInfo, len(candidates))
	for i, el := range candidates {
		el.Index = i
		listed[i] = el
	}
	listing, err := json.MarshalIndent(listed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode page elements: %w", err)
	}

	resp, err := f.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: finderSystemPrompt,
		UserPrompt:   finderPrompt(description, string(listing)),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("element matching failed: %w", err)
	}
	match, err := llmutil.ParseJSONResponse[elementMatch](resp)
	if err != nil {
		return nil, fmt.Errorf("element matching failed: %w", err)
	}

	if match.Index == nil || match.Confidence < f.minConfidence {
		reason := match.Reasoning
		if reason == "" {
			reason = "no matching element found"
		}
		return nil, fmt.Errorf("%w: no confident match for %q (confidence %.2f): %s", schemas.ErrElementNotFound, description, match.Confidence, reason)
	}
	if *match.Index < 0 || *match.Index >= len(candidates) {
		return nil, fmt.Errorf("%w: invalid element index returned (%d of %d)", schemas.ErrElementNotFound, *match.Index, len(candidates))
	}

	el := candidates[*match.Index]
	g := &Grounding{Selector: el.Selector, Element: el, Confidence: match.Confidence, Reasoning: match.Reasoning}

	visible, err := page.IsVisible(ctx, el.Selector)
	if err == nil && visible {
		f.logger.Debug("Grounded target.", zap.String("target", description), zap.String("selector", g.Selector), zap.Float64("confidence", g.Confidence))
		return g, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.logger.Debug("Matched element not visible, trying alternative selectors.", zap.String("selector", el.Selector), zap.Error(err))

	for _, alt := range alternativeSelectors(el) {
		if ok, altErr := page.IsVisible(ctx, alt); altErr == nil && ok {
			return &Grounding{
				Selector:    alt,
				Element:     el,
				Confidence:  alternativeConfidence,
				Reasoning:   "Found using alternative selector",
				Alternative: true,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: could not find %q with any selector strategy", schemas.ErrElementNotFound, description)
}

func filterElements(state *schemas.PageState, types []string) []schemas.ElementInfo {
	if state == nil {
		return nil
	}
	if len(types) == 0 {
		return state.InteractiveElements
	}
	var out []schemas.ElementInfo
	for _, el := range state.InteractiveElements {
		for _, t := range types {
			if el.Type == t {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

// alternativeSelectors lists fallbacks in order: id, name, exact text, aria-label.
func alternativeSelectors(el schemas.ElementInfo) []string {
	var alts []string
	if el.ID != "" {
		alts = append(alts, browser.IDSelector(el.ID))
	}
	if el.Name != "" {
		alts = append(alts, browser.AttrSelector("name", el.Name))
	}
	if text := strings.TrimSpace(el.Text); text != "" {
		alts = append(alts, browser.TextSelector(text))
	}
	if el.AriaLabel != "" {
		alts = append(alts, browser.AttrSelector("aria-label", el.AriaLabel))
	}
	return alts
}

func finderPrompt(description, listing string) string {
	return fmt.Sprintf(`You are analyzing a web page to find an element that matches a description.

TARGET DESCRIPTION: %q

AVAILABLE ELEMENTS ON THE PAGE:
%s

Find the element that best matches the description. Return a JSON object with:
{
    "index": <index of the best matching element in the list above>,
    "confidence": <0.0 to 1.0, how confident you are this is the right element>,
    "reasoning": "<brief explanation of why this element matches>"
}

If no element matches well (confidence < 0.5), return:
{
    "index": null,
    "confidence": 0.0,
    "reasoning": "<explanation of why no element matches>"
}

Return ONLY valid JSON, no additional text.`, description, listing)
}
