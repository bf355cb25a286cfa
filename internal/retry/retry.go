// Package retry provides a small exponential-backoff combinator shared by
// the send and upload paths.
package retry

import (
	"context"
	"time"
)

// Do invokes op up to maxAttempts times, doubling the delay between attempts
// starting at baseDelay (1s, 2s, 4s, ...). Any non-nil error is treated as
// retryable. Returns nil on the first success, the last error once attempts
// are exhausted, or ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}
