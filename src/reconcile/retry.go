package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/Oven29/cinema-payments/src/storage"
)

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // doubled after every failed attempt
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 50 * time.Millisecond}
}

// withRetry runs op until it succeeds, fails permanently, or the attempts run
// out. onRetry is called before each repeat.
func withRetry(ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), op func() error) (attempts int, err error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.Backoff
	for attempts = 1; ; attempts++ {
		err = op()
		if err == nil || !errors.Is(err, storage.ErrTransient) || attempts >= p.MaxAttempts {
			return attempts, err
		}
		if onRetry != nil {
			onRetry(attempts, err)
		}
		if werr := sleepOrDone(ctx, delay); werr != nil {
			return attempts, errors.Join(err, werr)
		}
		delay *= 2
	}
}

// sleepOrDone waits for d or returns early on context cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
