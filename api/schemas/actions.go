package schemas

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ActionType is the vocabulary of semantic browser actions the planner can emit.
type ActionType string

const (
	ActionNavigate          ActionType = "navigate"           // Load a URL.
	ActionClick             ActionType = "click"              // Click an element (or press Enter).
	ActionTypeText          ActionType = "type"               // Type text into a field.
	ActionWait              ActionType = "wait"               // Wait for the page to settle or for conditions.
	ActionCaptureScreenshot ActionType = "capture_screenshot" // Capture the current viewport.
	ActionEvaluateState     ActionType = "evaluate_state"     // Check whether an expected change happened.
	ActionScroll            ActionType = "scroll"             // Scroll the page.
	ActionSelectOption      ActionType = "select_option"      // Choose an option in a select element.
	ActionHover             ActionType = "hover"              // Move the pointer over an element.
)

// AllActionTypes lists every supported action, in the order presented to the planner.
var AllActionTypes = []ActionType{
	ActionNavigate,
	ActionClick,
	ActionTypeText,
	ActionWait,
	ActionCaptureScreenshot,
	ActionEvaluateState,
	ActionScroll,
	ActionSelectOption,
	ActionHover,
}

// ErrUnknownActionType is returned when a string does not name a supported action.
var ErrUnknownActionType = errors.New("unknown action type")

func (t ActionType) String() string { return string(t) }

// Valid reports whether t is one of the supported action types.
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseActionType normalizes s (case, surrounding space, dashes) and returns the matching type.
func ParseActionType(s string) (ActionType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	t := ActionType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionType, s)
	}
	return t, nil
}

var enterKeyRegex = regexp.MustCompile(`(?i)\benter\b`)

// MentionsEnterKey reports whether a click target asks for the Enter key
// rather than an element, as in "press Enter to submit".
func MentionsEnterKey(target string) bool {
	return enterKeyRegex.MatchString(target)
}

// Complexity is the planner's estimate of how involved a task is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Action is one atomic, semantic browser step. Targets are described in natural
// language; grounding them into selectors is the executor's job.
type Action struct {
	ActionType          ActionType `json:"action_type"`
	TargetDescription   string     `json:"target_description"`
	Value               string     `json:"value,omitempty"`
	ExpectedStateChange string     `json:"expected_state_change"`
	CaptureAfter        bool       `json:"capture_after"`
	Reasoning           string     `json:"reasoning,omitempty"`
	WaitConditions      []string   `json:"wait_conditions,omitempty"`
}

// Normalize canonicalizes the action type and trims free-text fields in place.
func (a *Action) Normalize() {
	if t, err := ParseActionType(string(a.ActionType)); err == nil {
		a.ActionType = t
	}
	a.TargetDescription = strings.TrimSpace(a.TargetDescription)
	a.ExpectedStateChange = strings.TrimSpace(a.ExpectedStateChange)
}

// Validate checks that the action carries what its type needs to be executed.
func (a Action) Validate() error {
	if !a.ActionType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.ActionType)
	}
	switch a.ActionType {
	case ActionNavigate:
		if strings.TrimSpace(a.Value) == "" && strings.TrimSpace(a.TargetDescription) == "" {
			return fmt.Errorf("navigate requires a value or a target description")
		}
	case ActionTypeText, ActionSelectOption:
		if a.Value == "" {
			return fmt.Errorf("%s requires a value", a.ActionType)
		}
		if strings.TrimSpace(a.TargetDescription) == "" {
			return fmt.Errorf("%s requires a target description", a.ActionType)
		}
	case ActionClick, ActionHover:
		if strings.TrimSpace(a.TargetDescription) == "" {
			return fmt.Errorf("%s requires a target description", a.ActionType)
		}
	}
	return nil
}

// Instruction renders the action as a short imperative sentence. It is what the
// history shown to the planner and the logs use to describe a step.
func (a Action) Instruction() string {
	target := a.TargetDescription
	switch a.ActionType {
	case ActionNavigate:
		if a.Value != "" {
			return "Navigate to " + a.Value
		}
		return "Navigate to " + target
	case ActionClick:
		if MentionsEnterKey(target) {
			return "Press Enter key"
		}
		return "Click on " + target
	case ActionTypeText:
		return fmt.Sprintf("Type '%s' into %s", a.Value, target)
	case ActionSelectOption:
		return fmt.Sprintf("Select '%s' from %s", a.Value, target)
	case ActionScroll:
		if strings.EqualFold(strings.TrimSpace(a.Value), "into view") {
			return "Scroll " + target + " into view"
		}
		if strings.Contains(strings.ToLower(target), "up") {
			return "Scroll up the page"
		}
		return "Scroll down the page"
	case ActionHover:
		return "Hover over " + target
	case ActionWait:
		if len(a.WaitConditions) > 0 {
			return "Wait for " + strings.Join(a.WaitConditions, "; ")
		}
		if target != "" {
			return "Wait for " + target
		}
		return "Wait for the page to settle"
	case ActionCaptureScreenshot:
		return "Take a screenshot"
	case ActionEvaluateState:
		expected := a.ExpectedStateChange
		if expected == "" {
			expected = target
		}
		return "Verify that " + expected
	default:
		return fmt.Sprintf("%s %s", a.ActionType, target)
	}
}

// TaskPlan is an ordered list of actions produced for a task in one pass.
type TaskPlan struct {
	Goal                string     `json:"goal"`
	Steps               []Action   `json:"steps"`
	Assumptions         []string   `json:"assumptions"`
	PotentialIssues     []string   `json:"potential_issues"`
	SuccessCriteria     []string   `json:"success_criteria"`
	EstimatedComplexity Complexity `json:"estimated_complexity"`
}

// Validate normalizes every step and checks the plan is executable. An empty
// complexity estimate defaults to moderate.
func (p *TaskPlan) Validate() error {
	if strings.TrimSpace(p.Goal) == "" {
		return fmt.Errorf("plan has no goal")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i := range p.Steps {
		p.Steps[i].Normalize()
		if err := p.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	switch p.EstimatedComplexity {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
	case "":
		p.EstimatedComplexity = ComplexityModerate
	default:
		return fmt.Errorf("invalid estimated_complexity %q", p.EstimatedComplexity)
	}
	return nil
}
