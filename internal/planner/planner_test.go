package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) Close() error { return m.Called().Error(0) }

func testPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		Temperature:         0.3,
		HistoryWindow:       3,
		CompletionThreshold: 0.7,
		RequestTimeout:      5 * time.Second,
	}
}

func newTestPlanner(t *testing.T) (*Planner, *mockLLM) {
	t.Helper()
	llm := new(mockLLM)
	p, err := New(llm, testPlannerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return p, llm
}

const linearPlan = `{
  "goal": "Create a project in Linear",
  "steps": [
    {"action_type": "navigate", "target_description": "Linear", "value": "https://linear.app", "expected_state_change": "Linear loads", "capture_after": true},
    {"action_type": "Click", "target_description": " Create Project button ", "expected_state_change": "Modal opens", "capture_after": true},
    {"action_type": "type", "target_description": "project name field", "value": "Apollo", "expected_state_change": "Name filled"}
  ],
  "assumptions": ["user is logged in"],
  "potential_issues": [],
  "success_criteria": ["project appears in list"]
}`

func TestNew(t *testing.T) {
	_, err := New(nil, testPlannerConfig(), zaptest.NewLogger(t))
	assert.Error(t, err)

	p, err := New(new(mockLLM), config.PlannerConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, p.cfg.RequestTimeout)
}

func TestPlan(t *testing.T) {
	t.Run("parses and normalizes the plan", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.SystemPrompt == plannerSystemPrompt &&
				req.Tier == schemas.TierPowerful &&
				req.Options.ForceJSONFormat &&
				req.Options.Temperature == 0.3 &&
				strings.Contains(req.UserPrompt, "TASK: Create a project in Linear")
		})).Return("```json\n"+linearPlan+"\n```", nil).Once()

		plan, err := p.Plan(context.Background(), "  Create a project in Linear ")
		require.NoError(t, err)

		assert.Equal(t, schemas.ComplexityModerate, plan.EstimatedComplexity)
		gotTypes := make([]schemas.ActionType, 0, len(plan.Steps))
		for _, s := range plan.Steps {
			gotTypes = append(gotTypes, s.ActionType)
		}
		want := []schemas.ActionType{schemas.ActionNavigate, schemas.ActionClick, schemas.ActionTypeText}
		if diff := cmp.Diff(want, gotTypes); diff != "" {
			t.Errorf("step types mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "Create Project button", plan.Steps[1].TargetDescription)
		llm.AssertExpectations(t)
	})

	t.Run("fills a missing goal from the task", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.Anything).
			Return(`{"steps":[{"action_type":"capture_screenshot"}],"estimated_complexity":"simple"}`, nil).Once()

		plan, err := p.Plan(context.Background(), "screenshot the page")
		require.NoError(t, err)
		assert.Equal(t, "screenshot the page", plan.Goal)
	})

	t.Run("empty task", func(t *testing.T) {
		p, _ := newTestPlanner(t)
		_, err := p.Plan(context.Background(), "  ")
		assert.Error(t, err)
	})

	errorCases := []struct {
		name     string
		response string
		llmErr   error
		want     error
	}{
		{name: "model error", llmErr: errors.New("connection reset"), want: ErrModel},
		{name: "client reports empty", llmErr: ErrEmptyResponse, want: ErrEmptyResponse},
		{name: "blank response", response: "   ", want: ErrEmptyResponse},
		{name: "not json", response: "I would rather not.", want: ErrParse},
		{name: "invalid plan", response: `{"goal":"x","steps":[]}`, want: ErrValidation},
		{name: "unknown action", response: `{"goal":"x","steps":[{"action_type":"teleport","target_description":"moon"}]}`, want: ErrValidation},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			p, llm := newTestPlanner(t)
			llm.On("Generate", mock.Anything, mock.Anything).Return(tc.response, tc.llmErr).Once()

			plan, err := p.Plan(context.Background(), "do something")
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRefinePlan(t *testing.T) {
	p, llm := newTestPlanner(t)
	original := &schemas.TaskPlan{
		Goal:  "Create a project in Linear",
		Steps: []schemas.Action{{ActionType: schemas.ActionNavigate, Value: "https://linear.app"}},
	}

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, "ORIGINAL PLAN:") &&
			strings.Contains(req.UserPrompt, `"value": "https://linear.app"`) &&
			strings.Contains(req.UserPrompt, "the workspace is called Acme")
	})).Return(linearPlan, nil).Once()

	refined, err := p.RefinePlan(context.Background(), original, "the workspace is called Acme")
	require.NoError(t, err)
	assert.Len(t, refined.Steps, 3)

	t.Run("wraps failures", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.Anything).Return("nope", nil).Once()
		_, err := p.RefinePlan(context.Background(), original, "feedback")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParse)
		assert.True(t, strings.HasPrefix(err.Error(), "failed to refine plan"))
	})
}

func TestDecideNextAction(t *testing.T) {
	history := []schemas.StepRecord{
		{StepIndex: 1, ActionType: schemas.ActionNavigate, Action: schemas.Action{ActionType: schemas.ActionNavigate, Value: "https://linear.app"}, Result: schemas.StepOutcome{Status: schemas.StatusSuccess}},
		{StepIndex: 2, ActionType: schemas.ActionClick, Action: schemas.Action{ActionType: schemas.ActionClick, TargetDescription: "New project"}, Result: schemas.StepOutcome{Status: schemas.StatusFailed, ErrorCode: "ELEMENT_NOT_FOUND", ErrorMessage: "no confident match"}},
	}

	t.Run("attaches an existing screenshot", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		shot := filepath.Join(t.TempDir(), "step_02.png")
		require.NoError(t, os.WriteFile(shot, []byte("png-bytes"), 0o644))

		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return len(req.Images) == 1 &&
				string(req.Images[0].Data) == "png-bytes" &&
				strings.Contains(req.UserPrompt, "CURRENT URL: https://linear.app/team") &&
				strings.Contains(req.UserPrompt, `Step 02 CLICK "New project" -> failed (ELEMENT_NOT_FOUND: no confident match)`)
		})).Return(`{"action_type":"scroll","target_description":"down","reasoning":"button may be below the fold"}`, nil).Once()

		action, err := p.DecideNextAction(context.Background(), "Create a project", shot, history, "https://linear.app/team")
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionScroll, action.ActionType)
		llm.AssertExpectations(t)
	})

	t.Run("missing screenshot and unknown url", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return len(req.Images) == 0 &&
				strings.Contains(req.UserPrompt, "CURRENT URL: unknown") &&
				strings.Contains(req.UserPrompt, "No actions taken yet.")
		})).Return(`{"action_type":"navigate","value":"https://linear.app"}`, nil).Once()

		action, err := p.DecideNextAction(context.Background(), "Create a project", "/does/not/exist.png", nil, "")
		require.NoError(t, err)
		assert.Equal(t, "https://linear.app", action.Value)
	})

	t.Run("invalid action", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.Anything).Return(`{"action_type":"type","target_description":"search"}`, nil).Once()
		_, err := p.DecideNextAction(context.Background(), "search", "", nil, "")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestIsTaskComplete(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     bool
	}{
		{"confident", `{"complete":true,"confidence":0.9,"reasoning":"project listed"}`, true},
		{"at threshold", `{"complete":true,"confidence":0.7}`, true},
		{"below threshold", `{"complete":true,"confidence":0.5}`, false},
		{"not complete", `{"complete":false,"confidence":0.95}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, llm := newTestPlanner(t)
			llm.On("Generate", mock.Anything, mock.Anything).Return(tc.response, nil).Once()
			verdict, err := p.IsTaskComplete(context.Background(), "task", "", nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, verdict.Complete)
		})
	}

	t.Run("model error", func(t *testing.T) {
		p, llm := newTestPlanner(t)
		llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()
		_, err := p.IsTaskComplete(context.Background(), "task", "", nil)
		assert.ErrorIs(t, err, ErrModel)
	})
}

func TestFormatHistory_Window(t *testing.T) {
	var history []schemas.StepRecord
	for i := 1; i <= 5; i++ {
		history = append(history, schemas.StepRecord{
			StepIndex:  i,
			ActionType: schemas.ActionWait,
			Action:     schemas.Action{ActionType: schemas.ActionWait},
			Result:     schemas.StepOutcome{Status: schemas.StatusSuccess},
		})
	}

	out := formatHistory(history, 3)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Step 03 WAIT"))
	assert.True(t, strings.HasPrefix(lines[2], "Step 05 WAIT"))
	assert.Len(t, strings.Split(formatHistory(history, 0), "\n"), 5)
}
