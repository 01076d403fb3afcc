// Package executor is the executing agent. It grounds semantic actions onto
// the page, runs them through the browser and reports one StepRecord per action.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

const (
	defaultDefaultWait   = 2 * time.Second
	defaultScrollPixels  = 500
	defaultWaitTimeout   = 30 * time.Second
	defaultScreenshotDir = "screenshots"
)

// BrowserOpener hands out the working page, opening the browser on first use.
type BrowserOpener interface {
	Page(ctx context.Context) (schemas.BrowserPage, error)
	Close(ctx context.Context) error
}

// actionHandler performs one action type. Details are merged into the outcome.
type actionHandler func(ctx context.Context, page schemas.BrowserPage, action schemas.Action, stepIndex int) (map[string]interface{}, error)

// Executor is the executing agent. It is not safe for concurrent ExecuteSingleAction calls.
type Executor struct {
	browser   BrowserOpener
	finder    *ElementFinder
	evaluator *StateEvaluator
	cfg       config.ExecutorConfig
	logger    *zap.Logger
	handlers  map[schemas.ActionType]actionHandler
	now       func() time.Time

	mu        sync.Mutex
	page      schemas.BrowserPage
	task      string
	lastState *schemas.PageState
	closed    bool
}

// New creates an executor. The browser is not opened until the first action.
func New(browser BrowserOpener, llm schemas.LLMClient, cfg config.ExecutorConfig, logger *zap.Logger) (*Executor, error) {
	if browser == nil {
		return nil, fmt.Errorf("executor requires a browser")
	}
	if llm == nil {
		return nil, fmt.Errorf("executor requires an LLM client")
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = defaultDefaultWait
	}
	if cfg.ScrollPixels <= 0 {
		cfg.ScrollPixels = defaultScrollPixels
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = defaultScreenshotDir
	}

	logger = logger.Named("executor")
	e := &Executor{
		browser:   browser,
		finder:    NewElementFinder(llm, cfg.MinConfidence, logger),
		evaluator: NewStateEvaluator(llm, logger),
		cfg:       cfg,
		logger:    logger,
		handlers:  make(map[schemas.ActionType]actionHandler),
		now:       time.Now,
	}
	e.registerHandlers()
	return e, nil
}

func (e *Executor) registerHandlers() {
	e.register(e.handleNavigate, schemas.ActionNavigate)
	e.register(e.handleClick, schemas.ActionClick)
	e.register(e.handleGrounded, schemas.ActionTypeText, schemas.ActionSelectOption, schemas.ActionHover)
	e.register(e.handleScroll, schemas.ActionScroll)
	e.register(e.handleWait, schemas.ActionWait)
	e.register(e.handleCaptureScreenshot, schemas.ActionCaptureScreenshot)
	e.register(e.handleEvaluateState, schemas.ActionEvaluateState)
}

// register associates a handler with one or more action types.
func (e *Executor) register(h actionHandler, types ...schemas.ActionType) {
	for _, t := range types {
		e.handlers[t] = h
	}
}

// SetTask names the task being executed. It is used for screenshot names and
// as the URL source of last resort for navigate steps.
func (e *Executor) SetTask(task string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = task
}

func (e *Executor) currentTask() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task
}

// openPage returns the page, opening the browser on first use.
func (e *Executor) openPage(ctx context.Context) (schemas.BrowserPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("executor is closed")
	}
	if e.page != nil {
		return e.page, nil
	}
	page, err := e.browser.Page(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	e.page = page
	return page, nil
}

// ExecuteSingleAction runs one action and always returns a record. Failures are
// reported in the record rather than as an error.
func (e *Executor) ExecuteSingleAction(ctx context.Context, action schemas.Action, stepIndex int) (record schemas.StepRecord) {
	start := e.now()
	action.Normalize()
	record = schemas.StepRecord{
		StepIndex:  stepIndex,
		ActionType: action.ActionType,
		Action:     action,
		Timestamp:  start,
	}
	logger := e.logger.With(zap.Int("step", stepIndex), zap.String("action", string(action.ActionType)))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered during action execution", zap.Any("panic_value", r), zap.Stack("stack"))
			record.Result = schemas.StepOutcome{
				Status:       schemas.StatusError,
				ErrorMessage: fmt.Sprintf("executor panic: %v", r),
				ErrorCode:    string(ErrCodeExecutorPanic),
				Duration:     time.Since(start),
			}
		}
	}()

	logger.Info("Executing action", zap.String("instruction", action.Instruction()))

	if err := action.Validate(); err != nil {
		if !errors.Is(err, schemas.ErrUnknownActionType) {
			err = fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		}
		record.Result = e.failure(err, action, start)
		logger.Warn("Action rejected", zap.String("error_code", record.Result.ErrorCode), zap.Error(err))
		return record
	}
	handler, ok := e.handlers[action.ActionType]
	if !ok {
		record.Result = e.failure(fmt.Errorf("%w: no handler registered for %s", schemas.ErrUnknownActionType, action.ActionType), action, start)
		return record
	}

	page, err := e.openPage(ctx)
	if err != nil {
		record.Result = schemas.StepOutcome{
			Status:       schemas.StatusError,
			ErrorMessage: err.Error(),
			ErrorCode:    string(ErrCodeExecutionFailure),
			Duration:     time.Since(start),
		}
		logger.Error("Browser unavailable", zap.Error(err))
		return record
	}

	details, err := handler(ctx, page, action, stepIndex)
	if err != nil {
		record.Result = e.failure(err, action, start)
		for k, v := range details {
			record.Result.Details[k] = v
		}
		logger.Warn("Action execution failed", zap.String("error_code", record.Result.ErrorCode), zap.Error(err))
	} else {
		record.Result = schemas.StepOutcome{Status: schemas.StatusSuccess, Details: details}
	}

	if path, ok := details["screenshot_path"].(string); ok {
		record.Result.ScreenshotPath = path
	} else if e.shouldCapture(action) {
		if path, capErr := e.capture(ctx, page, action, stepIndex); capErr != nil {
			logger.Warn("Failed to capture screenshot", zap.Error(capErr))
		} else {
			record.Result.ScreenshotPath = path
		}
	}

	if ctx.Err() == nil {
		if url, urlErr := page.CurrentURL(ctx); urlErr == nil {
			record.Result.URL = url
		}
	}
	record.Result.Duration = time.Since(start)
	logger.Info("Action finished", zap.String("status", string(record.Result.Status)), zap.Duration("duration", record.Result.Duration))
	return record
}

func (e *Executor) failure(err error, action schemas.Action, start time.Time) schemas.StepOutcome {
	code, details := ParseBrowserError(err, action)
	return schemas.StepOutcome{
		Status:       schemas.StatusFailed,
		ErrorMessage: err.Error(),
		ErrorCode:    string(code),
		Details:      details,
		Duration:     time.Since(start),
	}
}

func (e *Executor) shouldCapture(action schemas.Action) bool {
	return action.CaptureAfter || e.cfg.AlwaysScreenshot || action.ActionType == schemas.ActionEvaluateState
}

func (e *Executor) capture(ctx context.Context, page schemas.BrowserPage, action schemas.Action, stepIndex int) (string, error) {
	data, err := page.Screenshot(ctx, e.cfg.FullPage)
	if err != nil {
		return "", err
	}
	path := ScreenshotPath(e.cfg.ScreenshotDir, stepIndex, action.ActionType, e.currentTask(), e.now())
	if err := writeScreenshot(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ExecutePlan runs the steps in order. When a navigate or click step does not
// succeed the remaining steps are reported as skipped.
func (e *Executor) ExecutePlan(ctx context.Context, plan *schemas.TaskPlan) []schemas.StepRecord {
	if plan == nil {
		return nil
	}
	e.SetTask(plan.Goal)
	e.logger.Info("Executing plan", zap.String("goal", plan.Goal), zap.Int("steps", len(plan.Steps)))

	records := make([]schemas.StepRecord, 0, len(plan.Steps))
	abortReason := ""
	for i, step := range plan.Steps {
		if abortReason == "" && ctx.Err() != nil {
			abortReason = fmt.Sprintf("execution cancelled: %v", ctx.Err())
		}
		if abortReason != "" {
			records = append(records, schemas.StepRecord{
				StepIndex:  i + 1,
				ActionType: step.ActionType,
				Action:     step,
				Result:     schemas.StepOutcome{Status: schemas.StatusSkipped, ErrorMessage: abortReason},
				Timestamp:  e.now(),
			})
			continue
		}

		record := e.ExecuteSingleAction(ctx, step, i+1)
		records = append(records, record)
		if !record.Succeeded() && e.abortsPlan(record.ActionType) {
			abortReason = fmt.Sprintf("skipped after step %d (%s) failed", record.StepIndex, record.ActionType)
			e.logger.Warn("Aborting remaining steps", zap.Int("failed_step", record.StepIndex), zap.Int("remaining", len(plan.Steps)-i-1))
		}
	}
	return records
}

func (e *Executor) abortsPlan(t schemas.ActionType) bool {
	if !e.cfg.AbortOnFailedStep {
		return false
	}
	return t == schemas.ActionNavigate || t == schemas.ActionClick
}

// CurrentURL returns the page location, or "" when there is no page yet or the
// lookup fails.
func (e *Executor) CurrentURL(ctx context.Context) string {
	e.mu.Lock()
	page := e.page
	e.mu.Unlock()
	if page == nil {
		return ""
	}
	url, err := page.CurrentURL(ctx)
	if err != nil {
		e.logger.Debug("Could not read current URL", zap.Error(err))
		return ""
	}
	return url
}

// Close releases the browser. It is safe to call more than once.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.page = nil
	e.mu.Unlock()

	if err := e.browser.Close(ctx); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

func (e *Executor) rememberState(state *schemas.PageState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastState = state
}

func (e *Executor) previousState() *schemas.PageState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastState
}

// -- Action Handlers --

func (e *Executor) handleNavigate(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	if move, ok := historyMove(action.Value); ok {
		return e.navigateHistory(ctx, page, move)
	}
	url := resolveNavigationURL(action.Value, action.TargetDescription, e.currentTask())
	if url == "" {
		return nil, fmt.Errorf("%w: no URL found in value, target or task", ErrInvalidParameters)
	}
	res, err := page.Navigate(ctx, url)
	if err != nil {
		return map[string]interface{}{"url": url}, err
	}
	return map[string]interface{}{"url": res.URL, "title": res.Title}, nil
}

// historyMove recognizes the navigate values that move through the tab's history
// instead of loading a URL.
func historyMove(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "back", "go back":
		return "back", true
	case "forward", "go forward":
		return "forward", true
	case "reload", "refresh":
		return "reload", true
	}
	return "", false
}

func (e *Executor) navigateHistory(ctx context.Context, page schemas.BrowserPage, move string) (map[string]interface{}, error) {
	var err error
	switch move {
	case "back":
		err = page.GoBack(ctx)
	case "forward":
		err = page.GoForward(ctx)
	default:
		err = page.Reload(ctx)
	}
	details := map[string]interface{}{"history": move}
	if err != nil {
		return details, err
	}
	if url, urlErr := page.CurrentURL(ctx); urlErr == nil {
		details["url"] = url
	}
	return details, nil
}

func (e *Executor) handleClick(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	if schemas.MentionsEnterKey(action.TargetDescription) {
		return map[string]interface{}{"key": "Enter"}, page.PressKey(ctx, "Enter")
	}
	g, err := e.ground(ctx, page, action.TargetDescription)
	if err != nil {
		return nil, err
	}
	return groundingDetails(g), page.Click(ctx, g.Selector)
}

// handleGrounded covers the actions that need an element and nothing else
// beyond the action value.
func (e *Executor) handleGrounded(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	var types []string
	if action.ActionType == schemas.ActionTypeText || action.ActionType == schemas.ActionSelectOption {
		types = []string{"input"}
	}
	g, err := e.ground(ctx, page, action.TargetDescription, types...)
	if err != nil {
		return nil, err
	}
	details := groundingDetails(g)

	switch action.ActionType {
	case schemas.ActionTypeText:
		err = page.Type(ctx, g.Selector, action.Value, true)
	case schemas.ActionSelectOption:
		err = page.SelectOption(ctx, g.Selector, action.Value)
	case schemas.ActionHover:
		err = page.Hover(ctx, g.Selector)
	}
	return details, err
}

func (e *Executor) ground(ctx context.Context, page schemas.BrowserPage, description string, types ...string) (*Grounding, error) {
	state, err := page.PageState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze page: %w", err)
	}
	e.rememberState(state)
	return e.finder.Find(ctx, page, state, description, types...)
}

func groundingDetails(g *Grounding) map[string]interface{} {
	return map[string]interface{}{
		"selector":    g.Selector,
		"confidence":  g.Confidence,
		"reasoning":   g.Reasoning,
		"alternative": g.Alternative,
	}
}

func (e *Executor) handleScroll(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	if strings.EqualFold(strings.TrimSpace(action.Value), "into view") {
		if strings.TrimSpace(action.TargetDescription) == "" {
			return nil, fmt.Errorf("%w: scrolling into view requires a target description", ErrInvalidParameters)
		}
		g, err := e.ground(ctx, page, action.TargetDescription)
		if err != nil {
			return nil, err
		}
		return groundingDetails(g), page.ScrollIntoView(ctx, g.Selector)
	}
	direction := "down"
	if strings.Contains(strings.ToLower(action.TargetDescription), "up") {
		direction = "up"
	}
	pixels := e.cfg.ScrollPixels
	if n, err := strconv.Atoi(strings.TrimSpace(action.Value)); err == nil && n > 0 {
		pixels = n
	}
	return map[string]interface{}{"direction": direction, "pixels": pixels}, page.Scroll(ctx, direction, pixels)
}

func (e *Executor) handleWait(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	if len(action.WaitConditions) == 0 {
		wait := e.cfg.DefaultWait
		if d, ok := parseWaitDuration(action.Value); ok {
			wait = d
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]interface{}{"waited": wait.String()}, page.WaitFor(ctx, nil, defaultWaitTimeout)
	}

	timeout := defaultWaitTimeout
	if d, ok := parseWaitDuration(action.Value); ok {
		timeout = d
	}
	return map[string]interface{}{"conditions": action.WaitConditions}, page.WaitFor(ctx, action.WaitConditions, timeout)
}

// parseWaitDuration accepts a Go duration ("1500ms") or a number of seconds.
func parseWaitDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

func (e *Executor) handleCaptureScreenshot(ctx context.Context, page schemas.BrowserPage, action schemas.Action, stepIndex int) (map[string]interface{}, error) {
	path, err := e.capture(ctx, page, action, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return map[string]interface{}{"screenshot_path": path}, nil
}

func (e *Executor) handleEvaluateState(ctx context.Context, page schemas.BrowserPage, action schemas.Action, _ int) (map[string]interface{}, error) {
	expected := action.ExpectedStateChange
	if expected == "" {
		expected = action.TargetDescription
	}
	change, current, err := e.evaluator.Evaluate(ctx, page, expected, e.previousState())
	if current != nil {
		e.rememberState(current)
	}
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{
		"change_occurred": change.ChangeOccurred,
		"confidence":      change.Confidence,
		"evidence":        change.Evidence,
	}
	if len(change.Details) > 0 {
		details["details"] = change.Details
	}
	return details, nil
}
