package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepRecord(t *testing.T) {
	ok := StepRecord{StepIndex: 3, ActionType: ActionClick, Result: StepOutcome{Status: StatusSuccess}}
	assert.True(t, ok.Succeeded())
	assert.Equal(t, "Step 03 CLICK: success", ok.Line())

	failed := StepRecord{StepIndex: 12, ActionType: ActionCaptureScreenshot, Result: StepOutcome{Status: StatusFailed}}
	assert.False(t, failed.Succeeded())
	assert.Equal(t, "Step 12 CAPTURE_SCREENSHOT: failed", failed.Line())

	skipped := StepRecord{StepIndex: 1, ActionType: ActionTypeText, Result: StepOutcome{Status: StatusSkipped}}
	assert.False(t, skipped.Succeeded())
}
