// Package planner turns natural-language tasks into browser actions. It can
// produce a whole plan up front or decide one action at a time from the
// execution history and the latest screenshot.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Errors returned by the planner wrap one of these, so callers can tell a
// misbehaving model from a broken connection.
var (
	ErrEmptyResponse = llmutil.ErrEmptyResponse
	ErrParse         = errors.New("failed to parse JSON response")
	ErrValidation    = errors.New("plan validation failed")
	ErrModel         = errors.New("model API error")
)

// Planner is the planning agent. It is safe for concurrent use.
type Planner struct {
	llm    schemas.LLMClient
	cfg    config.PlannerConfig
	logger *zap.Logger
}

// New creates a planner backed by the given client.
func New(llm schemas.LLMClient, cfg config.PlannerConfig, logger *zap.Logger) (*Planner, error) {
	if llm == nil {
		return nil, fmt.Errorf("planner requires an LLM client")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	return &Planner{llm: llm, cfg: cfg, logger: logger.Named("planner")}, nil
}

// Plan generates a complete, validated plan for task.
func (p *Planner) Plan(ctx context.Context, task string) (*schemas.TaskPlan, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("task must not be empty")
	}

	p.logger.Info("Generating plan", zap.String("task", task))
	plan, err := p.generatePlan(ctx, planningPrompt(task), task)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Plan generated",
		zap.Int("steps", len(plan.Steps)),
		zap.String("complexity", string(plan.EstimatedComplexity)))
	return plan, nil
}

// RefinePlan asks the model to revise plan in light of feedback.
func (p *Planner) RefinePlan(ctx context.Context, plan *schemas.TaskPlan, feedback string) (*schemas.TaskPlan, error) {
	if plan == nil {
		return nil, fmt.Errorf("failed to refine plan: no plan given")
	}
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to refine plan: %w", err)
	}

	refined, err := p.generatePlan(ctx, refinementPrompt(string(planJSON), feedback), plan.Goal)
	if err != nil {
		return nil, fmt.Errorf("failed to refine plan: %w", err)
	}
	return refined, nil
}

// DecideNextAction picks the single next action given what has happened so far.
// A screenshot path that does not exist is ignored.
func (p *Planner) DecideNextAction(ctx context.Context, task, screenshotPath string, history []schemas.StepRecord, currentURL string) (schemas.Action, error) {
	images := p.loadScreenshot(screenshotPath)
	prompt := decisionPrompt(task, currentURL, formatHistory(history, p.cfg.HistoryWindow), len(images) > 0)

	response, err := p.generate(ctx, prompt, images)
	if err != nil {
		return schemas.Action{}, err
	}

	action, err := llmutil.ParseJSONResponse[schemas.Action](response)
	if err != nil {
		return schemas.Action{}, classifyParseError(err)
	}
	action.Normalize()
	if err := action.Validate(); err != nil {
		return schemas.Action{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	p.logger.Info("Next action decided",
		zap.Int("history", len(history)),
		zap.String("action", action.Instruction()))
	return *action, nil
}

// IsTaskComplete asks the model whether the task is done. The verdict is only
// complete when the model says so with at least the configured confidence.
func (p *Planner) IsTaskComplete(ctx context.Context, task, screenshotPath string, history []schemas.StepRecord) (schemas.CompletionVerdict, error) {
	images := p.loadScreenshot(screenshotPath)
	prompt := completionPrompt(task, formatHistory(history, p.cfg.HistoryWindow), len(images) > 0)

	response, err := p.generate(ctx, prompt, images)
	if err != nil {
		return schemas.CompletionVerdict{}, err
	}

	verdict, err := llmutil.ParseJSONResponse[schemas.CompletionVerdict](response)
	if err != nil {
		return schemas.CompletionVerdict{}, classifyParseError(err)
	}

	claimed := verdict.Complete
	verdict.Complete = claimed && verdict.Confidence >= p.cfg.CompletionThreshold
	p.logger.Info("Completion check",
		zap.Bool("claimed", claimed),
		zap.Bool("complete", verdict.Complete),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("reasoning", verdict.Reasoning))
	return *verdict, nil
}

func (p *Planner) generatePlan(ctx context.Context, prompt, goal string) (*schemas.TaskPlan, error) {
	response, err := p.generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}

	plan, err := llmutil.ParseJSONResponse[schemas.TaskPlan](response)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if strings.TrimSpace(plan.Goal) == "" {
		plan.Goal = goal
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return plan, nil
}

func (p *Planner) generate(ctx context.Context, prompt string, images []schemas.ImageAttachment) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	response, err := p.llm.Generate(reqCtx, schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   prompt,
		Images:       images,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     p.cfg.Temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrModel, err)
	}
	if strings.TrimSpace(response) == "" {
		return "", ErrEmptyResponse
	}
	return response, nil
}

func (p *Planner) loadScreenshot(path string) []schemas.ImageAttachment {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("Screenshot unavailable, deciding without it", zap.String("path", path), zap.Error(err))
		return nil
	}
	return []schemas.ImageAttachment{{MimeType: "image/png", Data: data}}
}

func classifyParseError(err error) error {
	if errors.Is(err, ErrEmptyResponse) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrParse, err)
}
