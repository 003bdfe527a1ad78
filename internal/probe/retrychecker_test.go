package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// fake checker you can control
type fakeChecker struct {
	mu      sync.Mutex
	results []domain.CheckResult
	i       int
}

func (f *fakeChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.results) {
		f.i++
		return domain.CheckResult{OK: false, Detail: "no more"}
	}
	r := f.results[f.i]
	f.i++
	return r
}

func (f *fakeChecker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.i
}

func retryMon(attempts int) domain.Monitor {
	return domain.Monitor{ID: "R1", Type: domain.TypeHTTP, RetryAttempts: attempts, TimeoutMS: 100}
}

func TestRetryChecker_SucceedsAfterRetry(t *testing.T) {
	f := &fakeChecker{results: []domain.CheckResult{
		{OK: false, Detail: "first fail", LatencyMS: 5},
		{OK: true, Detail: "ok", LatencyMS: 7},
	}}
	rc := NewRetryChecker(f, time.Millisecond, 5*time.Millisecond)

	out := rc.Check(context.Background(), retryMon(3))
	require.True(t, out.OK)
	assert.Equal(t, 2, f.calls(), "must stop on first success")
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, "ok", out.Detail)
	assert.Equal(t, 7.0, out.LatencyMS, "latency of the deciding attempt")
	assert.False(t, out.CheckedAt.IsZero())
}

func TestRetryChecker_AllFailReturnsLastFailure(t *testing.T) {
	f := &fakeChecker{results: []domain.CheckResult{
		{OK: false, Detail: "fail1"},
		{OK: false, Detail: "fail2"},
		{OK: false, Detail: "connection refused", LatencyMS: 3},
	}}
	rc := NewRetryChecker(f, 0, 0)

	out := rc.Check(context.Background(), retryMon(2))
	require.False(t, out.OK)
	assert.Equal(t, 3, f.calls(), "N retries means N+1 attempts")
	assert.Equal(t, "connection refused", out.Detail)
	assert.Equal(t, 3, out.Attempts)
}

func TestRetryChecker_ZeroRetriesIsSingleAttempt(t *testing.T) {
	f := &fakeChecker{}
	out := NewRetryChecker(f, 0, 0).Check(context.Background(), retryMon(0))
	assert.False(t, out.OK)
	assert.Equal(t, 1, f.calls())
}

func TestRetryChecker_EachAttemptHasDeadline(t *testing.T) {
	var deadlines []time.Duration
	inner := CheckerFunc(func(ctx context.Context, m domain.Monitor) domain.CheckResult {
		dl, ok := ctx.Deadline()
		require.True(t, ok, "attempt must carry a deadline")
		deadlines = append(deadlines, time.Until(dl))
		return domain.CheckResult{OK: false}
	})
	NewRetryChecker(inner, 0, 0).Check(context.Background(), retryMon(1))
	require.Len(t, deadlines, 2)
	for _, d := range deadlines {
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestRetryChecker_BackoffIsCappedExponential(t *testing.T) {
	rc := NewRetryChecker(&fakeChecker{}, 100*time.Millisecond, 350*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, rc.delay(0))
	assert.Equal(t, 200*time.Millisecond, rc.delay(1))
	assert.Equal(t, 350*time.Millisecond, rc.delay(2))
	assert.Equal(t, 350*time.Millisecond, rc.delay(10))
}

func TestRetryChecker_CancelledContextStopsRetrying(t *testing.T) {
	f := &fakeChecker{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewRetryChecker(f, time.Second, time.Second).Check(ctx, retryMon(5))
	assert.Equal(t, 1, f.calls())
}
