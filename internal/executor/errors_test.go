package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

func TestParseBrowserError(t *testing.T) {
	action := schemas.Action{ActionType: schemas.ActionClick, TargetDescription: "Save button"}

	testCases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"unknown action", fmt.Errorf("%w: %q", schemas.ErrUnknownActionType, "drag"), ErrCodeUnknownAction},
		{"invalid parameters", fmt.Errorf("%w: no URL", ErrInvalidParameters), ErrCodeInvalidParameters},
		{"element sentinel", fmt.Errorf("%w: #save not visible", schemas.ErrElementNotFound), ErrCodeElementNotFound},
		{"deadline", fmt.Errorf("click: %w", context.DeadlineExceeded), ErrCodeTimeoutError},
		{"navigation timeout", fmt.Errorf("%w: %w", schemas.ErrNavigationFailed, context.DeadlineExceeded), ErrCodeTimeoutError},
		{"navigation sentinel", fmt.Errorf("%w: https://x.test", schemas.ErrNavigationFailed), ErrCodeNavigationError},
		{"no element heuristic", errors.New("no element found for query"), ErrCodeElementNotFound},
		{"timeout heuristic", errors.New("operation Timeout exceeded"), ErrCodeTimeoutError},
		{"net error heuristic", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), ErrCodeNavigationError},
		{"wrapped element sentinel", fmt.Errorf("click action failed for selector '#save': %w", fmt.Errorf("%w: #save", schemas.ErrElementNotFound)), ErrCodeElementNotFound},
		{"script error naming a selector", errors.New("click action failed for selector '#save': exception \"TypeError: x is null\""), ErrCodeExecutionFailure},
		{"anything else", errors.New("websocket closed"), ErrCodeExecutionFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, details := ParseBrowserError(tc.err, action)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.err.Error(), details["message"])
			assert.Equal(t, "click", details["action"])
		})
	}

	t.Run("element failures carry the target", func(t *testing.T) {
		_, details := ParseBrowserError(schemas.ErrElementNotFound, action)
		assert.Equal(t, "Save button", details["target"])
	})
}
