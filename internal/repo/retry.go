package repo

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Retry bounds how often a failed persistence call is repeated.
type Retry struct {
	Attempts int
	Backoff  time.Duration
	Max      time.Duration
}

func DefaultRetry() Retry {
	return Retry{Attempts: 3, Backoff: 100 * time.Millisecond, Max: 2 * time.Second}
}

// Do runs fn until it succeeds, the attempts are used up or ctx ends. The
// returned error combines every attempt's failure.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.Backoff
	var errs error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return multierr.Append(errs, ctx.Err())
		case <-t.C:
		}
		delay *= 2
		if r.Max > 0 && delay > r.Max {
			delay = r.Max
		}
	}
	return errs
}
