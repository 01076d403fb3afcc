package schemas

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus is the outcome class of one executed step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"  // The action ran and did not achieve its effect.
	StatusError   StepStatus = "error"   // The executor itself broke (panic, no browser).
	StatusSkipped StepStatus = "skipped" // Not attempted because an earlier step aborted the plan.
)

// StepOutcome is what the executor reports back about a single action.
type StepOutcome struct {
	Status         StepStatus             `json:"status"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ErrorCode      string                 `json:"error_code,omitempty"`
	ScreenshotPath string                 `json:"screenshot_path,omitempty"`
	URL            string                 `json:"url,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Duration       time.Duration          `json:"duration"`
}

// StepRecord is one entry of the execution history fed back to the planner.
type StepRecord struct {
	StepIndex  int         `json:"step_index"`
	ActionType ActionType  `json:"action_type"`
	Action     Action      `json:"action"`
	Result     StepOutcome `json:"result"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Succeeded reports whether the step finished with a success status.
func (r StepRecord) Succeeded() bool { return r.Result.Status == StatusSuccess }

// Line renders the record the way run summaries and planner history show it:
// "Step 03 CLICK: failed".
func (r StepRecord) Line() string {
	return fmt.Sprintf("Step %02d %s: %s", r.StepIndex, strings.ToUpper(string(r.ActionType)), r.Result.Status)
}

// CompletionVerdict is the planner's judgement of whether the task is finished.
type CompletionVerdict struct {
	Complete   bool    `json:"complete"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// StateChange is the evaluator's judgement of whether an expected change happened.
type StateChange struct {
	ChangeOccurred bool                   `json:"change_occurred"`
	Confidence     float64                `json:"confidence"`
	Evidence       string                 `json:"evidence"`
	Details        map[string]interface{} `json:"details,omitempty"`
}
