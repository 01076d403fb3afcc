// internal/executor/evaluator.go
package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

const evaluatorSystemPrompt = "You are an expert at evaluating web page state changes. Always respond with valid JSON only."

// stateVerdict tolerates models that return details as prose instead of an object.
type stateVerdict struct {
	ChangeOccurred bool        `json:"change_occurred"`
	Confidence     float64     `json:"confidence"`
	Evidence       string      `json:"evidence"`
	Details        interface{} `json:"details"`
}

// StateEvaluator judges whether an expected change happened on the page.
type StateEvaluator struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

func NewStateEvaluator(llm schemas.LLMClient, logger *zap.Logger) *StateEvaluator {
	return &StateEvaluator{llm: llm, logger: logger.Named("state_evaluator")}
}

// Evaluate captures the current page state and asks the model whether expected
// has occurred, comparing against previous when one is known. The captured state
// is returned alongside the verdict.
func (e *StateEvaluator) Evaluate(ctx context.Context, page schemas.BrowserPage, expected string, previous *schemas.PageState) (*schemas.StateChange, *schemas.PageState, error) {
	current, err := page.PageState(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to capture page state: %w", err)
	}

	prompt, err := evaluatorPrompt(expected, current, previous)
	if err != nil {
		return nil, current, err
	}
	resp, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: evaluatorSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, current, fmt.Errorf("error evaluating state change: %w", err)
	}
	verdict, err := llmutil.ParseJSONResponse[stateVerdict](resp)
	if err != nil {
		return nil, current, fmt.Errorf("error evaluating state change: %w", err)
	}

	change := &schemas.StateChange{
		ChangeOccurred: verdict.ChangeOccurred,
		Confidence:     verdict.Confidence,
		Evidence:       verdict.Evidence,
	}
	switch d := verdict.Details.(type) {
	case map[string]interface{}:
		change.Details = d
	case string:
		if d != "" {
			change.Details = map[string]interface{}{"summary": d}
		}
	}
	e.logger.Debug("State evaluated.",
		zap.String("expected", expected),
		zap.Bool("change_occurred", change.ChangeOccurred),
		zap.Float64("confidence", change.Confidence))
	return change, current, nil
}

func evaluatorPrompt(expected string, current, previous *schemas.PageState) (string, error) {
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode page state: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are evaluating whether an expected state change occurred on a web page.\n\n")
	fmt.Fprintf(&b, "EXPECTED CHANGE: %q\n\n", expected)
	fmt.Fprintf(&b, "CURRENT PAGE STATE:\n%s\n\n", currentJSON)
	if previous != nil {
		previousJSON, err := json.MarshalIndent(previous, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode previous page state: %w", err)
		}
		fmt.Fprintf(&b, "PREVIOUS PAGE STATE:\n%s\n\n", previousJSON)
	}
	fmt.Fprintf(&b, `Determine if the expected change %q has occurred.

Return a JSON object:
{
    "change_occurred": true/false,
    "confidence": 0.0-1.0,
    "evidence": "<brief explanation of what you observe>",
    "details": "<any relevant details about the state change>"
}

Return ONLY valid JSON, no additional text.`, expected)
	return b.String(), nil
}
