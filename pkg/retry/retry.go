// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy describes how many times and how fast to retry.
type Policy struct {
	Tries    int
	Delay    time.Duration
	Backoff  float64
	MaxDelay time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// tries or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	tries := p.Tries
	if tries < 1 {
		tries = 1
	}
	backoff := p.Backoff
	if backoff < 1 {
		backoff = 1
	}
	delay := p.Delay

	var err error
	for attempt := 1; attempt <= tries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == tries || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * backoff)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
