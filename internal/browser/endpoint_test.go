// internal/browser/endpoint_test.go
package browser

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const versionPayload = `{
  "Browser": "Chrome/120.0.6099.109",
  "Protocol-Version": "1.3",
  "User-Agent": "Mozilla/5.0",
  "webSocketDebuggerUrl": "ws://127.0.0.1:9222/devtools/browser/4f1c"
}`

func TestProbeEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/json/version", r.URL.Path)
			_, _ = io.WriteString(w, versionPayload)
		}))
		defer server.Close()

		info, err := ProbeEndpoint(context.Background(), server.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/4f1c", info.WebSocketDebuggerURL)
		assert.Equal(t, "1.3", info.ProtocolVersion)
	})

	t.Run("missing websocket url", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"Browser":"Chrome"}`)
		}))
		defer server.Close()

		_, err := ProbeEndpoint(context.Background(), server.URL)
		assert.ErrorContains(t, err, "no webSocketDebuggerUrl")
	})

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := ProbeEndpoint(context.Background(), server.URL)
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := ProbeEndpoint(context.Background(), url)
		assert.ErrorContains(t, err, "unreachable")
	})
}

func TestWaitForEndpoint(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("becomes available", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, versionPayload)
		}))
		defer server.Close()

		info, err := WaitForEndpoint(context.Background(), server.URL, 10*time.Second, logger)
		require.NoError(t, err)
		assert.Equal(t, "Chrome/120.0.6099.109", info.Browser)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
	})

	t.Run("gives up after the wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		start := time.Now()
		_, err := WaitForEndpoint(context.Background(), server.URL, 700*time.Millisecond, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no browser remote debugging endpoint")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("websocket address skips probing", func(t *testing.T) {
		info, err := WaitForEndpoint(context.Background(), "ws://127.0.0.1:9222/devtools/browser/x", time.Second, logger)
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", info.WebSocketDebuggerURL)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WaitForEndpoint(ctx, "http://127.0.0.1:1", time.Second, logger)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
