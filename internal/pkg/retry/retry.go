// Package retry provides bounded retry with exponential backoff for
// transient collaborator failures.
package retry

import (
	"context"
	"time"
)

// Backoff returns the delay before attempt n (0-based), base*2^n
// capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		return base
	}
	if n > 30 {
		return max
	}
	d := base * time.Duration(1<<uint(n))
	if d > max {
		return max
	}
	return d
}

// Do runs fn up to attempts times, sleeping Backoff between failures.
// A ctx cancellation stops immediately with the last error, or the
// ctx error when fn never ran.
func Do(ctx context.Context, attempts int, base, max time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(Backoff(i, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
