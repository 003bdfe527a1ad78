package probe

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// RetryChecker runs one check cycle: up to RetryAttempts+1 attempts, each
// bounded by the monitor's timeout, with capped exponential backoff between
// them. The first success ends the cycle. When every attempt fails the last
// failure is returned unchanged apart from its attempt count.
type RetryChecker struct {
	Inner      Checker
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewRetryChecker(inner Checker, backoff, maxBackoff time.Duration) *RetryChecker {
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	return &RetryChecker{Inner: inner, Backoff: backoff, MaxBackoff: maxBackoff}
}

func (r *RetryChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	attempts := m.RetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}

	var last domain.CheckResult
	for i := 0; i < attempts; i++ {
		last = r.attempt(ctx, m)
		last.Attempts = i + 1
		if last.OK {
			break
		}
		if i < attempts-1 && !sleep(ctx, r.delay(i)) {
			break
		}
	}
	last.CheckedAt = time.Now().UTC()
	return last
}

func (r *RetryChecker) attempt(ctx context.Context, m domain.Monitor) domain.CheckResult {
	if t := m.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return r.Inner.Check(ctx, m)
}

// delay doubles from Backoff for every failed attempt, never above MaxBackoff.
func (r *RetryChecker) delay(failed int) time.Duration {
	d := r.Backoff
	for i := 0; i < failed && d < r.MaxBackoff; i++ {
		d *= 2
	}
	if r.MaxBackoff > 0 && d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
