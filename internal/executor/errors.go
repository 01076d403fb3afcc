// internal/executor/errors.go
package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// ErrorCode is a string type used for structured error reporting in step outcomes.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"

	// -- Browser/DOM Errors --
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// ErrInvalidParameters marks an action that cannot be executed as given.
var ErrInvalidParameters = errors.New("invalid action parameters")

// ParseBrowserError classifies an action failure. Wrapped sentinels are checked
// first; the message heuristics catch errors raised deeper in the browser stack.
func ParseBrowserError(err error, action schemas.Action) (ErrorCode, map[string]interface{}) {
	errStr := err.Error()
	details := map[string]interface{}{
		"message": errStr,
		"action":  string(action.ActionType),
	}

	switch {
	case errors.Is(err, schemas.ErrUnknownActionType):
		return ErrCodeUnknownAction, details
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters, details
	case errors.Is(err, schemas.ErrElementNotFound):
		details["target"] = action.TargetDescription
		return ErrCodeElementNotFound, details
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError, details
	case errors.Is(err, schemas.ErrNavigationFailed):
		return ErrCodeNavigationError, details
	}

	// Heuristic based error classification.
	lower := strings.ToLower(errStr)
	if strings.Contains(lower, "no element found") || strings.Contains(lower, "could not find node") {
		details["target"] = action.TargetDescription
		return ErrCodeElementNotFound, details
	}
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return ErrCodeTimeoutError, details
	}
	if strings.Contains(errStr, "net::ERR") {
		return ErrCodeNavigationError, details
	}
	return ErrCodeExecutionFailure, details
}
