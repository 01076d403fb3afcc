// internal/orchestrator/orchestrator.go
// Description: Drives the planner and the executor. The iterative mode asks the
// planner for one action at a time and feeds every outcome back; the batch mode
// plans once and executes the whole plan.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/executor"
	"github.com/xkilldash9x/tandem-cli/internal/planner"
)

const (
	DefaultMaxSteps        = 50
	defaultShutdownTimeout = 15 * time.Second
)

// Mode names how a run was driven.
type Mode string

const (
	ModeIterative Mode = "iterative"
	ModeBatch     Mode = "batch"
)

// StopReason records why a run ended.
type StopReason string

const (
	StopCompleted    StopReason = "completed"     // The planner judged the task done.
	StopMaxSteps     StopReason = "max_steps"     // The step budget ran out.
	StopPlannerError StopReason = "planner_error" // The planner could not produce an action or plan.
	StopCancelled    StopReason = "cancelled"     // The caller's context ended.
	StopPlanFinished StopReason = "plan_finished" // Batch: every step of the plan ran to success.
	StopStepFailed   StopReason = "step_failed"   // Batch: at least one step did not succeed.
)

// Decider is the planning side of a run.
type Decider interface {
	Plan(ctx context.Context, task string) (*schemas.TaskPlan, error)
	DecideNextAction(ctx context.Context, task, screenshotPath string, history []schemas.StepRecord, currentURL string) (schemas.Action, error)
	IsTaskComplete(ctx context.Context, task, screenshotPath string, history []schemas.StepRecord) (schemas.CompletionVerdict, error)
}

// StepExecutor is the executing side of a run.
type StepExecutor interface {
	SetTask(task string)
	ExecuteSingleAction(ctx context.Context, action schemas.Action, stepIndex int) schemas.StepRecord
	ExecutePlan(ctx context.Context, plan *schemas.TaskPlan) []schemas.StepRecord
	CurrentURL(ctx context.Context) string
	Close(ctx context.Context) error
}

// RunRecorder persists runs as they progress. PersistRun writes a finished run
// in one go and is used when the run could not be created up front.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *RunResult) error
	RecordStep(ctx context.Context, runID string, record schemas.StepRecord) error
	CompleteRun(ctx context.Context, runID string, reason StopReason, stepsTaken int, finishedAt time.Time) error
	PersistRun(ctx context.Context, run *RunResult) error
}

var (
	_ Decider      = (*planner.Planner)(nil)
	_ StepExecutor = (*executor.Executor)(nil)
)

// RunResult is the outcome of one run. Err holds a planner failure that ended
// the run early.
type RunResult struct {
	RunID      string               `json:"run_id"`
	Task       string               `json:"task"`
	Mode       Mode                 `json:"mode"`
	Plan       *schemas.TaskPlan    `json:"plan,omitempty"`
	Steps      []schemas.StepRecord `json:"steps"`
	StopReason StopReason           `json:"stop_reason"`
	StepsTaken int                  `json:"steps_taken"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Err        error                `json:"-"`

	recorded bool
}

// Succeeded reports whether the run reached its goal.
func (r *RunResult) Succeeded() bool {
	return r.StopReason == StopCompleted || r.StopReason == StopPlanFinished
}

// Summary renders one line per step, plus an error line for steps that failed.
func (r *RunResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s): %s after %d steps\n", r.RunID, r.Mode, r.StopReason, r.StepsTaken)
	for _, rec := range r.Steps {
		b.WriteString(rec.Line())
		b.WriteString("\n")
		if rec.Result.Status != schemas.StatusSuccess && rec.Result.Status != schemas.StatusSkipped && rec.Result.ErrorMessage != "" {
			fmt.Fprintf(&b, "  Error: %s\n", rec.Result.ErrorMessage)
		}
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", r.Err)
	}
	return b.String()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every run through r.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithShutdownTimeout bounds how long closing the executor may take.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// Orchestrator wires a planner to an executor. A run owns the executor: it is
// closed when the run returns.
type Orchestrator struct {
	planner         Decider
	executor        StepExecutor
	recorder        RunRecorder
	logger          *zap.Logger
	shutdownTimeout time.Duration
	now             func() time.Time
}

// New creates an Orchestrator with its dependencies provided as interfaces.
func New(p Decider, e StepExecutor, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if p == nil || e == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		planner:         p,
		executor:        e,
		logger:          logger.Named("orchestrator"),
		shutdownTimeout: defaultShutdownTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) newResult(task string, mode Mode) *RunResult {
	return &RunResult{
		RunID:     uuid.NewString(),
		Task:      task,
		Mode:      mode,
		Steps:     []schemas.StepRecord{},
		StartedAt: o.now(),
	}
}

// RunIterative runs the plan, execute, observe loop until the planner judges
// the task complete, the planner fails, maxSteps actions were decided, or ctx
// ends. Only cancellation is returned as an error; planner failures are kept in
// the result.
func (o *Orchestrator) RunIterative(ctx context.Context, task string, maxSteps int) (*RunResult, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	result := o.newResult(task, ModeIterative)
	logger := o.logger.With(zap.String("run_id", result.RunID))
	logger.Info("Starting iterative execution", zap.String("task", task), zap.Int("max_steps", maxSteps))

	o.executor.SetTask(task)
	defer o.closeExecutor(ctx, logger)
	o.recordStart(ctx, result, logger)

	lastScreenshot := ""
	step := 0
	for step < maxSteps {
		if ctx.Err() != nil {
			result.StopReason = StopCancelled
			break
		}
		step++
		stepLogger := logger.With(zap.Int("step", step))

		action, err := o.planner.DecideNextAction(ctx, task, lastScreenshot, result.Steps, o.executor.CurrentURL(ctx))
		if err != nil {
			if ctx.Err() != nil {
				result.StopReason = StopCancelled
				break
			}
			stepLogger.Error("Planner failed to decide next action", zap.Error(err))
			result.StopReason = StopPlannerError
			result.Err = err
			break
		}
		stepLogger.Info("Planner decided", zap.String("action", action.Instruction()), zap.String("reasoning", action.Reasoning))

		if action.ActionType == schemas.ActionEvaluateState {
			verdict, err := o.planner.IsTaskComplete(ctx, task, lastScreenshot, result.Steps)
			switch {
			case err != nil:
				stepLogger.Warn("Completion check failed, continuing", zap.Error(err))
			case verdict.Complete:
				stepLogger.Info("Task complete", zap.Float64("confidence", verdict.Confidence), zap.String("reasoning", verdict.Reasoning))
				result.StopReason = StopCompleted
			}
			if result.StopReason == StopCompleted {
				break
			}
		}

		record := o.executor.ExecuteSingleAction(ctx, action, step)
		result.Steps = append(result.Steps, record)
		if record.Result.ScreenshotPath != "" {
			lastScreenshot = record.Result.ScreenshotPath
		}
		stepLogger.Info("Step finished",
			zap.String("status", string(record.Result.Status)),
			zap.String("error_code", record.Result.ErrorCode),
			zap.String("screenshot", record.Result.ScreenshotPath))
		o.recordStep(ctx, result, record, stepLogger)
	}
	if result.StopReason == "" {
		if ctx.Err() != nil {
			result.StopReason = StopCancelled
		} else {
			result.StopReason = StopMaxSteps
		}
	}
	result.StepsTaken = step
	o.finish(ctx, result, logger)

	if result.StopReason == StopCancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// RunBatch plans the whole task up front and executes it.
func (o *Orchestrator) RunBatch(ctx context.Context, task string) (*RunResult, error) {
	plan, err := o.planner.Plan(ctx, task)
	if err != nil {
		result := o.newResult(task, ModeBatch)
		defer o.closeExecutor(ctx, o.logger)
		if ctx.Err() != nil {
			result.StopReason = StopCancelled
			o.finish(ctx, result, o.logger)
			return result, ctx.Err()
		}
		o.logger.Error("Planner failed to produce a plan", zap.Error(err))
		result.StopReason = StopPlannerError
		result.Err = err
		o.finish(ctx, result, o.logger)
		return result, nil
	}
	return o.RunPlan(ctx, plan)
}

// RunPlan executes an already produced plan, such as one loaded from disk.
func (o *Orchestrator) RunPlan(ctx context.Context, plan *schemas.TaskPlan) (*RunResult, error) {
	if plan == nil {
		return nil, errors.New("no plan to run")
	}
	result := o.newResult(plan.Goal, ModeBatch)
	result.Plan = plan
	logger := o.logger.With(zap.String("run_id", result.RunID))
	logger.Info("Starting batch execution", zap.String("goal", plan.Goal), zap.Int("steps", len(plan.Steps)))

	defer o.closeExecutor(ctx, logger)
	o.recordStart(ctx, result, logger)

	result.Steps = o.executor.ExecutePlan(ctx, plan)
	result.StopReason = StopPlanFinished
	for _, rec := range result.Steps {
		o.recordStep(ctx, result, rec, logger)
		if rec.Result.Status != schemas.StatusSkipped {
			result.StepsTaken++
		}
		if !rec.Succeeded() {
			result.StopReason = StopStepFailed
		}
	}
	if ctx.Err() != nil {
		result.StopReason = StopCancelled
	}
	o.finish(ctx, result, logger)

	if result.StopReason == StopCancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// closeExecutor closes the executor on a context detached from ctx, so a
// cancelled run still shuts the browser down.
func (o *Orchestrator) closeExecutor(ctx context.Context, logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
	defer cancel()
	if err := o.executor.Close(closeCtx); err != nil {
		logger.Warn("Failed to close executor", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, result *RunResult, logger *zap.Logger) {
	result.FinishedAt = o.now()
	logger.Info("Run finished",
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("steps_taken", result.StepsTaken),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))

	if o.recorder == nil {
		return
	}
	storeCtx := context.WithoutCancel(ctx)
	if !result.recorded {
		if err := o.recorder.PersistRun(storeCtx, result); err != nil {
			logger.Warn("Failed to persist run", zap.Error(err))
		}
		return
	}
	if err := o.recorder.CompleteRun(storeCtx, result.RunID, result.StopReason, result.StepsTaken, result.FinishedAt); err != nil {
		logger.Warn("Failed to persist run completion", zap.Error(err))
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, result *RunResult, logger *zap.Logger) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.CreateRun(ctx, result); err != nil {
		logger.Warn("Failed to create run, it will be stored when it finishes", zap.Error(err))
		return
	}
	result.recorded = true
}

// recordStep stores one step of a run that was created up front.
func (o *Orchestrator) recordStep(ctx context.Context, result *RunResult, record schemas.StepRecord, logger *zap.Logger) {
	if o.recorder == nil || !result.recorded {
		return
	}
	if err := o.recorder.RecordStep(context.WithoutCancel(ctx), result.RunID, record); err != nil {
		logger.Warn("Failed to persist step", zap.Int("step", record.StepIndex), zap.Error(err))
	}
}
