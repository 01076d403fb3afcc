// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

const (
	defaultCDPURL     = "http://localhost:9222"
	defaultAttachWait = 90 * time.Second
	startupTimeout    = 45 * time.Second
	tabCloseTimeout   = 5 * time.Second
)

// Manager owns the browser behind a Session. In launch mode it starts and
// later stops a Chrome process. In attach mode it connects to a browser the
// user already runs, drives a fresh tab in it, and on Close only closes that tab.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	cancels []context.CancelFunc // released in reverse order
	closeFn func(context.Context)
	closed  bool
}

// NewManager creates a manager; no browser is touched until Open.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger.Named("browser_manager")}
}

// Open returns the session, starting or attaching to the browser on first use.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser manager is closed")
	}
	if m.session != nil {
		return m.session, nil
	}

	var err error
	if m.cfg.Attach {
		err = m.attach(ctx)
	} else {
		err = m.launch(ctx)
	}
	if err != nil {
		m.releaseLocked()
		return nil, err
	}
	m.logger.Info("Browser session ready.", zap.Bool("attached", m.cfg.Attach), zap.String("target_id", string(m.session.targetID())))
	return m.session, nil
}

// Page is Open behind the schemas.BrowserPage interface.
func (m *Manager) Page(ctx context.Context) (schemas.BrowserPage, error) {
	s, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless), zap.String("user_data_dir", m.cfg.UserDataDir))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(m.cfg)...)
	m.cancels = append(m.cancels, allocCancel)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, m.contextOptions()...)
	m.cancels = append(m.cancels, tabCancel)

	// The first Run starts the browser and binds its lifetime to tabCtx, so it
	// cannot carry a deadline of its own.
	if err := m.startWithin(ctx, tabCtx); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.closeFn = func(closeCtx context.Context) {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(tabCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("Error while closing browser.", zap.Error(err))
			}
		case <-closeCtx.Done():
			m.logger.Warn("Timed out closing browser gracefully, killing process.")
		}
	}
	m.session = newSession(tabCtx, m.cfg, m.logger)
	return nil
}

func (m *Manager) attach(ctx context.Context) error {
	base := m.cfg.CDPURL
	if base == "" {
		base = defaultCDPURL
	}
	wait := m.cfg.AttachWait
	if wait <= 0 {
		wait = defaultAttachWait
	}

	info, err := WaitForEndpoint(ctx, base, wait, m.logger)
	if err != nil {
		return err
	}
	m.logger.Info("Attaching to running browser.", zap.String("browser", info.Browser), zap.String("ws_url", info.WebSocketDebuggerURL))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), info.WebSocketDebuggerURL, chromedp.NoModifyURL)
	m.cancels = append(m.cancels, allocCancel)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, m.contextOptions()...)
	m.cancels = append(m.cancels, browserCancel)
	if err := m.startWithin(ctx, browserCtx); err != nil {
		return fmt.Errorf("failed to connect to browser at %s: %w", base, err)
	}

	// A child context of the connected browser opens a new tab.
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	m.cancels = append(m.cancels, tabCancel)
	if err := m.startWithin(ctx, tabCtx); err != nil {
		return fmt.Errorf("failed to open a tab in the attached browser: %w", err)
	}

	// Cancelling a non-first context closes only its target; the user's
	// browser and their own tabs are left running.
	m.closeFn = func(context.Context) {}
	m.session = newSession(tabCtx, m.cfg, m.logger)
	return nil
}

// startWithin runs an empty action list on c, giving up when ctx ends or the
// startup timeout passes.
func (m *Manager) startWithin(ctx context.Context, c context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(c) }()

	timer := time.NewTimer(startupTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s", startupTimeout)
	}
}

func (m *Manager) contextOptions() []chromedp.ContextOption {
	opts := []chromedp.ContextOption{
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Warnf),
	}
	if m.cfg.Debug {
		opts = append(opts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	return opts
}

// Close shuts down whatever Open started. It is safe to call more than once
// and before Open.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if m.closeFn != nil {
		closeCtx, cancel := context.WithTimeout(Detach(ctx), tabCloseTimeout)
		m.closeFn(closeCtx)
		cancel()
	}
	m.releaseLocked()
	m.session = nil
	m.logger.Info("Browser session closed.")
	return nil
}

func (m *Manager) releaseLocked() {
	for i := len(m.cancels) - 1; i >= 0; i-- {
		m.cancels[i]()
	}
	m.cancels = nil
	m.closeFn = nil
}
