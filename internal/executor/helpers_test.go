package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

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

// fastTier matches the grounding and evaluation requests.
var fastTier = mock.MatchedBy(func(req schemas.GenerationRequest) bool {
	return req.Tier == schemas.TierFast && req.Options.ForceJSONFormat
})

// fakePage is an in-memory BrowserPage. Calls are recorded as "Method arg...".
type fakePage struct {
	mu    sync.Mutex
	calls []string

	url     string
	state   *schemas.PageState
	visible map[string]bool
	png     []byte
	errs    map[string]error // keyed by method name
	panicOn string
}

func newFakePage() *fakePage {
	return &fakePage{
		url:     "about:blank",
		visible: map[string]bool{},
		png:     []byte("\x89PNG fake"),
		errs:    map[string]error{},
		state: &schemas.PageState{
			URL:   "https://app.example.com/projects",
			Title: "Projects",
			InteractiveElements: []schemas.ElementInfo{
				{Index: 0, Type: "button", Tag: "button", Text: "Create Project", ID: "create", Selector: "#create"},
				{Index: 1, Type: "link", Tag: "a", Text: "Settings", Href: "/settings", Selector: "a[href='/settings']"},
				{Index: 2, Type: "input", Tag: "input", InputType: "text", Name: "project-name", Placeholder: "Project name", Selector: ".name-field"},
			},
			ModalsOpen:   []schemas.ModalInfo{},
			FormsPresent: []schemas.FormInfo{},
			PageLoaded:   true,
		},
	}
}

func (p *fakePage) record(method string, args ...interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := method
	for _, a := range args {
		call += fmt.Sprintf(" %v", a)
	}
	p.calls = append(p.calls, call)
	if p.panicOn == method {
		panic("boom in " + method)
	}
	return p.errs[method]
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Navigate(ctx context.Context, url string) (schemas.NavigationResult, error) {
	if err := p.record("Navigate", url); err != nil {
		return schemas.NavigationResult{}, err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return schemas.NavigationResult{URL: url, Title: "Loaded"}, nil
}

func (p *fakePage) GoBack(ctx context.Context) error    { return p.record("GoBack") }
func (p *fakePage) GoForward(ctx context.Context) error { return p.record("GoForward") }
func (p *fakePage) Reload(ctx context.Context) error    { return p.record("Reload") }

func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.record("Click", selector)
}

func (p *fakePage) Type(ctx context.Context, selector, text string, clearFirst bool) error {
	return p.record("Type", selector, text, clearFirst)
}

func (p *fakePage) PressKey(ctx context.Context, key string) error { return p.record("PressKey", key) }

func (p *fakePage) SelectOption(ctx context.Context, selector, value string) error {
	return p.record("SelectOption", selector, value)
}

func (p *fakePage) Hover(ctx context.Context, selector string) error {
	return p.record("Hover", selector)
}

func (p *fakePage) Scroll(ctx context.Context, direction string, pixels int) error {
	return p.record("Scroll", direction, pixels)
}

func (p *fakePage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.record("ScrollIntoView", selector)
}

func (p *fakePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	err := p.record("IsVisible", selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], err
}

func (p *fakePage) WaitFor(ctx context.Context, conditions []string, timeout time.Duration) error {
	return p.record("WaitFor", conditions, timeout)
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := p.record("Screenshot", fullPage); err != nil {
		return nil, err
	}
	return p.png, nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.errs["CurrentURL"]
}

func (p *fakePage) Title(ctx context.Context) (string, error) { return "Projects", nil }

func (p *fakePage) PageState(ctx context.Context) (*schemas.PageState, error) {
	if err := p.record("PageState"); err != nil {
		return nil, err
	}
	return p.state, nil
}

// fakeOpener counts how often the browser is opened and closed.
type fakeOpener struct {
	mu      sync.Mutex
	page    *fakePage
	openErr error
	opened  int
	closed  int
}

func (o *fakeOpener) Page(ctx context.Context) (schemas.BrowserPage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.page, nil
}

func (o *fakeOpener) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func testExecutorConfig(t *testing.T) config.ExecutorConfig {
	return config.ExecutorConfig{
		MaxSteps:          10,
		ScreenshotDir:     t.TempDir(),
		MinConfidence:     0.5,
		DefaultWait:       10 * time.Millisecond,
		ScrollPixels:      500,
		AbortOnFailedStep: true,
	}
}

func newTestExecutor(t *testing.T, cfg config.ExecutorConfig) (*Executor, *fakeOpener, *mockLLM) {
	t.Helper()
	opener := &fakeOpener{page: newFakePage()}
	llm := new(mockLLM)
	e, err := New(opener, llm, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return e, opener, llm
}

var errBoom = errors.New("boom")
