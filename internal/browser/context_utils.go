// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from primary that is also canceled
// when secondary is done. Values, including the chromedp target, come from
// primary only; secondary contributes its cancellation and deadline. The
// cause of a secondary-triggered cancellation is available via context.Cause.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx but is never canceled
// with it. Cleanup that must outlive the caller (closing a tab after the run
// context was canceled) runs on a detached context with its own timeout.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
