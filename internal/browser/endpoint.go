// internal/browser/endpoint.go
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	probeTimeout     = 1500 * time.Millisecond
	probeInterval    = 500 * time.Millisecond
	progressInterval = 5 * time.Second
)

// VersionInfo is the payload of the DevTools /json/version endpoint.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

var probeClient = &http.Client{Timeout: probeTimeout}

// ProbeEndpoint asks a remote-debugging endpoint for its version info. baseURL is
// the HTTP address the browser listens on, e.g. http://localhost:9222.
func ProbeEndpoint(ctx context.Context, baseURL string) (*VersionInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid remote debugging URL %q: %w", baseURL, err)
	}
	resp, err := probeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote debugging endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote debugging endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read version info: %w", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode version info: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("version info has no webSocketDebuggerUrl")
	}
	return &info, nil
}

// WaitForEndpoint polls ProbeEndpoint until it succeeds or wait elapses. It is
// meant for the case where the user starts their browser after tandem.
// A ws:// or wss:// address is returned as is without probing.
func WaitForEndpoint(ctx context.Context, baseURL string, wait time.Duration, logger *zap.Logger) (*VersionInfo, error) {
	if strings.HasPrefix(baseURL, "ws://") || strings.HasPrefix(baseURL, "wss://") {
		return &VersionInfo{WebSocketDebuggerURL: baseURL}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	start := time.Now()
	lastReport := start
	var info *VersionInfo
	operation := func() error {
		var err error
		info, err = ProbeEndpoint(waitCtx, baseURL)
		return err
	}
	notify := func(err error, _ time.Duration) {
		if time.Since(lastReport) >= progressInterval {
			lastReport = time.Now()
			logger.Info("Waiting for browser remote debugging endpoint...",
				zap.String("url", baseURL),
				zap.Duration("elapsed", time.Since(start).Round(time.Second)),
				zap.Error(err))
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(probeInterval), waitCtx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("no browser remote debugging endpoint at %s after %s: %w", baseURL, wait, err)
	}
	logger.Info("Remote debugging endpoint is available.",
		zap.String("browser", info.Browser),
		zap.String("protocol", info.ProtocolVersion))
	return info, nil
}
