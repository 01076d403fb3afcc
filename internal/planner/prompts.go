package planner

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

const plannerSystemPrompt = "You are an expert web automation planner. Always respond with valid JSON only, no additional text."

// actionVocabulary is shared by every prompt that asks for actions.
const actionVocabulary = `The executing agent drives a real browser. It can:
- navigate: load a URL (put the URL in "value"); a "value" of "back", "forward" or "reload" moves through the tab history instead
- click: click a button, link or other interactive element (a target mentioning "Enter" presses the Enter key)
- type: type "value" into the described input field
- select_option: choose "value" from the described dropdown
- hover: move the pointer over the described element
- scroll: scroll the page ("up" in the target scrolls up, "value" may give pixels); a "value" of "into view" scrolls the described element into view
- wait: wait for the page to settle or for the listed wait_conditions
- capture_screenshot: capture the current viewport
- evaluate_state: check whether "expected_state_change" has happened`

const actionSchema = `{
    "action_type": "navigate|click|type|wait|capture_screenshot|evaluate_state|scroll|select_option|hover",
    "target_description": "Natural language description of what to interact with",
    "value": "Optional value for navigate/type/select_option actions",
    "expected_state_change": "What should happen after this action",
    "capture_after": true,
    "reasoning": "Why this action is needed",
    "wait_conditions": ["condition1"]
}`

func planningPrompt(task string) string {
	return fmt.Sprintf(`You are an intelligent web automation planner. Break the instruction below into a detailed, executable plan.

TASK: %s

%s

IMPORTANT CONSIDERATIONS:
1. Generalizability: describe targets semantically (e.g. "Create Project button"), never with CSS selectors.
2. State detection: many UI changes (modals, inline forms, toasts) do not change the URL. Those are the moments to capture screenshots.
3. Screenshot strategy: set capture_after after opening dialogs, after filling forms, after submitting, and when success or error messages appear.
4. Error handling: note what could go wrong and how it would show up.
5. User context: state your assumptions about the user (logged in, permissions).

OUTPUT FORMAT:
Return a JSON object with this structure:
{
    "goal": "The original task description",
    "steps": [%s],
    "assumptions": ["assumption1"],
    "potential_issues": ["issue1"],
    "success_criteria": ["criterion1"],
    "estimated_complexity": "simple|moderate|complex"
}

Now generate the plan:`, task, actionVocabulary, actionSchema)
}

func refinementPrompt(planJSON, feedback string) string {
	return fmt.Sprintf(`You have an existing plan that needs refinement based on feedback.

ORIGINAL PLAN:
%s

FEEDBACK/CONTEXT:
%s

Generate a refined plan with the same JSON structure. Address the feedback while keeping the overall goal.`, planJSON, feedback)
}

func decisionPrompt(task, currentURL, history string, hasScreenshot bool) string {
	if strings.TrimSpace(currentURL) == "" {
		currentURL = "unknown"
	}
	screenshotNote := "No screenshot of the current page is available."
	if hasScreenshot {
		screenshotNote = "A screenshot of the current page is attached."
	}

	return fmt.Sprintf(`You are controlling a browser one action at a time to accomplish a task.

TASK: %s

CURRENT URL: %s
%s

ACTIONS TAKEN SO FAR:
%s

%s

RULES:
- Return exactly one action as a JSON object with this structure:
%s
- If the history is empty and the page is blank, start with navigate.
- Never repeat a failing action more than twice; try a different target or approach instead.
- When you believe the task is done, return an evaluate_state action whose expected_state_change describes the finished state.

Decide the next action:`, task, currentURL, screenshotNote, history, actionVocabulary, actionSchema)
}

func completionPrompt(task, history string, hasScreenshot bool) string {
	screenshotNote := "No screenshot is available; judge from the history."
	if hasScreenshot {
		screenshotNote = "A screenshot of the current page is attached."
	}
	return fmt.Sprintf(`Judge whether a browser automation task has been completed.

TASK: %s

ACTIONS TAKEN:
%s

%s

Respond with a JSON object:
{"complete": true|false, "confidence": 0.0-1.0, "reasoning": "short explanation"}`, task, history, screenshotNote)
}

// formatHistory renders the last window records, oldest first, one per line.
func formatHistory(history []schemas.StepRecord, window int) string {
	if len(history) == 0 {
		return "No actions taken yet."
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	lines := make([]string, 0, len(history))
	for _, rec := range history {
		target := rec.Action.TargetDescription
		if rec.Action.ActionType == schemas.ActionNavigate && rec.Action.Value != "" {
			target = rec.Action.Value
		}
		line := fmt.Sprintf("Step %02d %s %q -> %s", rec.StepIndex, strings.ToUpper(string(rec.ActionType)), target, rec.Result.Status)
		if msg := rec.Result.ErrorMessage; msg != "" {
			if rec.Result.ErrorCode != "" {
				msg = rec.Result.ErrorCode + ": " + msg
			}
			line += " (" + msg + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
