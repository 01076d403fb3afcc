// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

const (
	defaultActionTimeout = 30 * time.Second
	minNavigationTimeout = 60 * time.Second
	visibilityTimeout    = 10 * time.Second
)

// Session is the working tab. It implements schemas.BrowserPage.
type Session struct {
	ctx    context.Context // chromedp tab context
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ schemas.BrowserPage = (*Session)(nil)

func newSession(tabCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{ctx: tabCtx, cfg: cfg, logger: logger.Named("session")}
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

// run executes actions on the tab, bounded by the tab lifetime, ctx and timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		opCtx, timeoutCancel = context.WithTimeout(opCtx, timeout)
		defer timeoutCancel()
	}
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) waitLoaded() chromedp.Action {
	var ready bool
	return chromedp.Poll(readyStateScript, &ready, chromedp.WithPollingInterval(100*time.Millisecond))
}

func (s *Session) settle() chromedp.Action {
	if s.cfg.SettleTime <= 0 {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	return chromedp.Sleep(s.cfg.SettleTime)
}

// Navigate loads url and waits for the document to finish loading.
func (s *Session) Navigate(ctx context.Context, url string) (schemas.NavigationResult, error) {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	timeout := s.actionTimeout()
	if timeout < minNavigationTimeout {
		timeout = minNavigationTimeout
	}
	var res schemas.NavigationResult
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		s.waitLoaded(),
		s.settle(),
		chromedp.Location(&res.URL),
		chromedp.Title(&res.Title),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: timeout after %s loading %s: %w", schemas.ErrNavigationFailed, timeout, url, err)
		}
		return res, fmt.Errorf("%w: %s: %w", schemas.ErrNavigationFailed, url, err)
	}
	return res, nil
}

// GoBack navigates one entry back in history.
func (s *Session) GoBack(ctx context.Context) error {
	if err := s.run(ctx, s.actionTimeout(), chromedp.NavigateBack(), s.waitLoaded()); err != nil {
		return fmt.Errorf("%w: back: %w", schemas.ErrNavigationFailed, err)
	}
	return nil
}

// GoForward navigates one entry forward in history.
func (s *Session) GoForward(ctx context.Context) error {
	if err := s.run(ctx, s.actionTimeout(), chromedp.NavigateForward(), s.waitLoaded()); err != nil {
		return fmt.Errorf("%w: forward: %w", schemas.ErrNavigationFailed, err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, s.actionTimeout(), chromedp.Reload(), s.waitLoaded()); err != nil {
		return fmt.Errorf("%w: reload: %w", schemas.ErrNavigationFailed, err)
	}
	return nil
}

// waitVisible maps a visibility timeout onto ErrElementNotFound.
func (s *Session) waitVisible(ctx context.Context, r resolvedSelector, original string) error {
	err := s.run(ctx, visibilityTimeout,
		chromedp.ScrollIntoView(r.Query, r.by()),
		chromedp.WaitVisible(r.Query, r.by()),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not visible after %s", schemas.ErrElementNotFound, original, visibilityTimeout)
	}
	return fmt.Errorf("waiting for %s: %w", original, err)
}

// Click scrolls the element into view, waits for it to be visible and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element", zap.String("selector", selector))
	r, err := resolveSelector(selector)
	if err != nil {
		return err
	}
	if err := s.waitVisible(ctx, r, selector); err != nil {
		return err
	}
	if err := s.run(ctx, s.actionTimeout(), chromedp.Click(r.Query, r.by()), s.settle()); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Type focuses the element and sends text as key events, clearing it first if asked.
func (s *Session) Type(ctx context.Context, selector, text string, clearFirst bool) error {
	s.logger.Debug("Typing into element", zap.String("selector", selector), zap.Int("text_length", len(text)))
	r, err := resolveSelector(selector)
	if err != nil {
		return err
	}
	if err := s.waitVisible(ctx, r, selector); err != nil {
		return err
	}

	actions := []chromedp.Action{chromedp.Focus(r.Query, r.by())}
	if clearFirst {
		actions = append(actions, chromedp.Clear(r.Query, r.by()))
	}
	actions = append(actions, chromedp.SendKeys(r.Query, text, r.by()))

	// Long inputs are sent key by key; give them proportionally more time.
	timeout := s.actionTimeout() + time.Duration(len(text))*20*time.Millisecond
	if err := s.run(ctx, timeout, actions...); err != nil {
		return fmt.Errorf("type action failed for selector '%s': %w", selector, err)
	}
	return nil
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"arrowdown":  kb.ArrowDown,
	"arrowup":    kb.ArrowUp,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
}

// PressKey sends a named key (Enter, Tab, Escape, ...) or literal characters to the focused element.
func (s *Session) PressKey(ctx context.Context, key string) error {
	keys, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		keys = key
	}
	if err := s.run(ctx, s.actionTimeout(), chromedp.KeyEvent(keys), s.settle()); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

// SelectOption picks the option whose value matches, falling back to the visible label.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	r, err := resolveSelector(selector)
	if err != nil {
		return err
	}
	if err := s.waitVisible(ctx, r, selector); err != nil {
		return err
	}

	v, _ := json.Marshal(value)
	script := fmt.Sprintf(`(() => {
  const el = %s;
  if (!el || el.tagName !== 'SELECT') return 'not_select';
  const want = %s;
  const opts = Array.from(el.options);
  const opt = opts.find(o => o.value === want) || opts.find(o => o.text.trim() === want.trim());
  if (!opt) return 'no_option';
  el.value = opt.value;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return 'ok';
})()`, elementLookupJS(r), v)

	var outcome string
	if err := s.run(ctx, s.actionTimeout(), chromedp.Evaluate(script, &outcome)); err != nil {
		return fmt.Errorf("select action failed for selector '%s': %w", selector, err)
	}
	switch outcome {
	case "ok":
		return nil
	case "not_select":
		return fmt.Errorf("%w: %s is not a select element", schemas.ErrElementNotFound, selector)
	default:
		return fmt.Errorf("no option %q in %s", value, selector)
	}
}

// Hover moves the mouse pointer to the centre of the element.
func (s *Session) Hover(ctx context.Context, selector string) error {
	r, err := resolveSelector(selector)
	if err != nil {
		return err
	}
	if err := s.waitVisible(ctx, r, selector); err != nil {
		return err
	}

	var box *dom.BoxModel
	err = s.run(ctx, s.actionTimeout(),
		chromedp.Dimensions(r.Query, &box, r.by()),
		chromedp.ActionFunc(func(c context.Context) error {
			x, y, ok := quadCentre(box)
			if !ok {
				return fmt.Errorf("element has no geometry")
			}
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(c)
		}),
		s.settle(),
	)
	if err != nil {
		return fmt.Errorf("hover action failed for selector '%s': %w", selector, err)
	}
	return nil
}

func quadCentre(box *dom.BoxModel) (float64, float64, bool) {
	if box == nil || len(box.Content) < 8 {
		return 0, 0, false
	}
	q := box.Content
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, true
}

// Scroll scrolls the window by pixels; "up" scrolls towards the top.
func (s *Session) Scroll(ctx context.Context, direction string, pixels int) error {
	if pixels <= 0 {
		pixels = 500
	}
	dy := pixels
	if strings.EqualFold(strings.TrimSpace(direction), "up") {
		dy = -pixels
	}
	script := fmt.Sprintf("window.scrollBy(0, %d)", dy)
	if err := s.run(ctx, s.actionTimeout(), chromedp.Evaluate(script, nil), s.settle()); err != nil {
		return fmt.Errorf("scroll action failed: %w", err)
	}
	return nil
}

// ScrollIntoView brings the element into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	r, err := resolveSelector(selector)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.actionTimeout(), chromedp.ScrollIntoView(r.Query, r.by())); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
		}
		return fmt.Errorf("scroll into view failed for selector '%s': %w", selector, err)
	}
	return nil
}

// IsVisible reports whether the selector matches a rendered element. It never waits.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	r, err := resolveSelector(selector)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return false;
  const st = window.getComputedStyle(el);
  if (st.display === 'none' || st.visibility === 'hidden') return false;
  return el.offsetParent !== null || st.position === 'fixed';
})()`, elementLookupJS(r))

	var visible bool
	if err := s.run(ctx, s.actionTimeout(), chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility check failed for selector '%s': %w", selector, err)
	}
	return visible, nil
}

var quotedTextRegex = regexp.MustCompile(`["'\x60]([^"'\x60]{2,})["'\x60]`)

// textCondition extracts the text a wait condition asks for. Conditions of the
// form text=..., text:..., or containing a quoted phrase name visible text;
// anything else is descriptive only.
func textCondition(cond string) (string, bool) {
	c := strings.TrimSpace(cond)
	lower := strings.ToLower(c)
	for _, prefix := range []string{"text=", "text:"} {
		if strings.HasPrefix(lower, prefix) {
			t := strings.Trim(strings.TrimSpace(c[len(prefix):]), `"'`)
			return t, t != ""
		}
	}
	if m := quotedTextRegex.FindStringSubmatch(c); m != nil {
		return m[1], true
	}
	return "", false
}

// WaitFor waits for the document to load, then for every text condition to
// appear in the page, then for the settle period.
func (s *Session) WaitFor(ctx context.Context, conditions []string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.actionTimeout()
	}
	actions := []chromedp.Action{s.waitLoaded()}
	for _, cond := range conditions {
		text, ok := textCondition(cond)
		if !ok {
			continue
		}
		t, _ := json.Marshal(text)
		var found bool
		actions = append(actions, chromedp.Poll(
			fmt.Sprintf("document.body && document.body.innerText.includes(%s)", t),
			&found,
			chromedp.WithPollingInterval(250*time.Millisecond),
		))
	}
	actions = append(actions, s.settle())

	if err := s.run(ctx, timeout, actions...); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timeout after %s waiting for %s", timeout, strings.Join(conditions, "; "))
		}
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

// Screenshot captures the viewport, or the whole page when fullPage is set, as PNG.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, s.actionTimeout(), action); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.actionTimeout(), chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.actionTimeout(), chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// Evaluate runs a JS expression and decodes its value into out (which may be nil).
func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return s.run(ctx, s.actionTimeout(), chromedp.Evaluate(expression, out))
}

// PageState collects the analyzer output. The extraction scripts run
// concurrently; if any fails the page markup is analyzed offline instead.
func (s *Session) PageState(ctx context.Context) (*schemas.PageState, error) {
	state := &schemas.PageState{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Location(&state.URL), chromedp.Title(&state.Title))
	})
	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Evaluate(visibleTextScript, &state.VisibleText))
	})
	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Evaluate(interactiveElementsScript, &state.InteractiveElements))
	})
	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Evaluate(modalsScript, &state.ModalsOpen))
	})
	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Evaluate(formsScript, &state.FormsPresent))
	})
	g.Go(func() error {
		return s.run(gctx, s.actionTimeout(), chromedp.Evaluate(readyStateScript, &state.PageLoaded))
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Page analysis scripts failed, analyzing markup instead.", zap.Error(err))
		return s.pageStateFromMarkup(ctx)
	}
	state.VisibleText = truncateRunes(state.VisibleText, schemas.MaxVisibleText)
	return state, nil
}

func (s *Session) pageStateFromMarkup(ctx context.Context) (*schemas.PageState, error) {
	var markup, url string
	err := s.run(ctx, s.actionTimeout(),
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read page markup: %w", err)
	}
	state, err := AnalyzeHTML(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	state.URL = url
	return state, nil
}

// targetID returns the CDP target the session drives.
func (s *Session) targetID() target.ID {
	if c := chromedp.FromContext(s.ctx); c != nil && c.Target != nil {
		return c.Target.TargetID
	}
	return ""
}
