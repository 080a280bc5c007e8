// Package effect runs secondary effects: work triggered by a request whose
// failure must not change the request's response (notifications, friend sync,
// live fan-out). Failures are logged and dropped.
package effect

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single effect.
const DefaultTimeout = 30 * time.Second

// Runner launches effects in background goroutines detached from the caller's
// cancellation. Wait blocks until every launched effect has returned.
type Runner struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner returns a Runner whose effects are each bounded by timeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout}
}

// Go runs fn in the background. ctx contributes values only; cancelling it
// (the request ending) does not stop fn.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		defer func() {
			if p := recover(); p != nil {
				slog.Error("secondary effect panicked", "effect", name, "panic", p)
			}
		}()
		if err := fn(ctx); err != nil {
			slog.Warn("secondary effect failed", "effect", name, "error", err)
		}
	}()
}

// Wait blocks until all effects launched so far have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
