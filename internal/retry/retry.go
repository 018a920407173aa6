package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/baechuer/notify-platform/internal/domain"
)

// Policy is a pure backoff policy: delay for the n-th retry (0-indexed) is
// min(initial * base^n, max).
type Policy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
}

// DefaultPolicy matches the pipeline defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		ExponentialBase: 2.0,
		MaxDelay:        30 * time.Second,
	}
}

// Delay returns the backoff before the given retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.ExponentialBase
	if base <= 1 {
		base = 2.0
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(base, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		// d <= 0 guards float overflow on large attempts.
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether retryCount has used up the retry budget.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Do runs fn up to MaxRetries+1 times, sleeping per Delay between attempts.
// Only errors classified retryable are retried; the last error is returned
// once the budget is spent.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !domain.Retryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
