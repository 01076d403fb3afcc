// internal/browser/options.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/tandem-cli/internal/config"
)

const (
	defaultWidth     = 1920
	defaultHeight    = 1080
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// allocatorFlag is one command-line switch passed to the launched browser.
// A bool value of false omits the switch.
type allocatorFlag struct {
	Name  string
	Value interface{}
}

// viewport returns the configured window size, falling back to 1920x1080.
func viewport(cfg config.BrowserConfig) (int, int) {
	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return width, height
}

// allocatorFlags computes the launch switches layered over chromedp's defaults.
// Later flags win, so user supplied args can override anything set here.
func allocatorFlags(cfg config.BrowserConfig) []allocatorFlag {
	width, height := viewport(cfg)
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	flags := []allocatorFlag{
		{"headless", cfg.Headless},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"window-size", fmt.Sprintf("%d,%d", width, height)},
		{"user-agent", userAgent},
	}
	if cfg.UserDataDir != "" {
		flags = append(flags, allocatorFlag{"user-data-dir", cfg.UserDataDir})
		if cfg.ProfileDirectory != "" {
			flags = append(flags, allocatorFlag{"profile-directory", cfg.ProfileDirectory})
		}
	}
	for _, arg := range cfg.Args {
		if f, ok := parseArg(arg); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// parseArg accepts "--name=value", "name=value", "--name" or "name".
func parseArg(arg string) (allocatorFlag, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return allocatorFlag{}, false
	}
	if name, value, found := strings.Cut(arg, "="); found {
		return allocatorFlag{Name: name, Value: value}, true
	}
	return allocatorFlag{Name: arg, Value: true}, true
}

// ExecAllocatorOptions builds the chromedp options for launch mode.
func ExecAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	return opts
}
