package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a context that expires after timeout and returns
// as soon as either fn finishes or the deadline passes, even if fn ignores its
// context. A non-positive timeout runs fn directly. Deadline failures wrap
// context.DeadlineExceeded; parent cancellation wraps the parent's error.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeoutCause(ctx, timeout, fmt.Errorf("%s exceeded %v", name, timeout))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, err)
		}
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}
