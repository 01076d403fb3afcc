package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

func TestStateEvaluator_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the verdict and accepts prose details", func(t *testing.T) {
		llm := new(mockLLM)
		page := newFakePage()
		ev := NewStateEvaluator(llm, zaptest.NewLogger(t))

		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.SystemPrompt == evaluatorSystemPrompt &&
				strings.Contains(req.UserPrompt, `EXPECTED CHANGE: "modal opens"`) &&
				!strings.Contains(req.UserPrompt, "PREVIOUS PAGE STATE")
		})).Return(`{"change_occurred": true, "confidence": 0.85, "evidence": "dialog visible", "details": "title is New project"}`, nil).Once()

		change, current, err := ev.Evaluate(ctx, page, "modal opens", nil)
		require.NoError(t, err)
		assert.True(t, change.ChangeOccurred)
		assert.Equal(t, 0.85, change.Confidence)
		assert.Equal(t, "dialog visible", change.Evidence)
		assert.Equal(t, map[string]interface{}{"summary": "title is New project"}, change.Details)
		assert.Same(t, page.state, current)
	})

	t.Run("includes the previous state and object details", func(t *testing.T) {
		llm := new(mockLLM)
		page := newFakePage()
		ev := NewStateEvaluator(llm, zaptest.NewLogger(t))
		previous := &schemas.PageState{URL: "https://before.test", Title: "Before"}

		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return strings.Contains(req.UserPrompt, "PREVIOUS PAGE STATE") && strings.Contains(req.UserPrompt, "https://before.test")
		})).Return(`{"change_occurred": false, "confidence": 0.6, "evidence": "same page", "details": {"url_changed": false}}`, nil).Once()

		change, _, err := ev.Evaluate(ctx, page, "url changes", previous)
		require.NoError(t, err)
		assert.False(t, change.ChangeOccurred)
		assert.Equal(t, map[string]interface{}{"url_changed": false}, change.Details)
	})

	t.Run("page state failure", func(t *testing.T) {
		llm := new(mockLLM)
		page := newFakePage()
		page.errs["PageState"] = errBoom
		ev := NewStateEvaluator(llm, zaptest.NewLogger(t))

		_, current, err := ev.Evaluate(ctx, page, "anything", nil)
		assert.ErrorIs(t, err, errBoom)
		assert.Nil(t, current)
		llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("unparseable verdict", func(t *testing.T) {
		llm := new(mockLLM)
		page := newFakePage()
		ev := NewStateEvaluator(llm, zaptest.NewLogger(t))
		llm.On("Generate", mock.Anything, fastTier).Return("I think so", nil).Once()

		_, current, err := ev.Evaluate(ctx, page, "anything", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error evaluating state change")
		assert.NotNil(t, current)
	})
}
