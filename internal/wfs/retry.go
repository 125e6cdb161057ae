package wfs

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultAttempts   = 10
	DefaultRetryDelay = 60 * time.Second
)

// RetryPolicy bounds how often a page request is attempted and how long
// to wait between attempts.
type RetryPolicy struct {
	// Attempts is the total number of tries per page, first one included.
	Attempts int
	// Delay is the wait between attempts, or the base delay when
	// Exponential is set.
	Delay       time.Duration
	Exponential bool
	// MaxDelay caps a single exponential wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy is 10 attempts with a fixed 60 second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Delay: DefaultRetryDelay}
}

// backoff builds a fresh go-retry backoff for one page.
func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b retry.Backoff
	switch {
	case p.Delay <= 0:
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	case p.Exponential:
		b = retry.NewExponential(p.Delay)
		if p.MaxDelay > 0 {
			b = retry.WithCappedDuration(p.MaxDelay, b)
		}
	default:
		b = retry.NewConstant(p.Delay)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b) // #nosec G115 -- attempts >= 1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sleepingBackoff moves the wait out of go-retry and into sleep so the
// delay can be observed and replaced in tests. go-retry itself then
// waits zero between attempts.
func sleepingBackoff(ctx context.Context, b retry.Backoff, sleep SleepFunc) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		if err := sleep(ctx, d); err != nil {
			return 0, true
		}
		return 0, false
	})
}
