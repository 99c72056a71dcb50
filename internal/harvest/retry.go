package harvest

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a bounded number of times with a fixed
// backoff. The same combinator backs page-level transient retries, credential
// refresh retries, and gallery uploads; only the parameters differ.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

// Do runs op until it succeeds, the attempt budget is spent, or the context
// finishes. The returned error is the last one op produced.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := waitFor(ctx, p.Backoff); werr != nil {
				return werr
			}
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func waitFor(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
