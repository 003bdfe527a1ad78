package probe

import (
	"context"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Detail strings shared by every checker.
const (
	DetailTimeout  = "timeout"
	DetailCanceled = "canceled"
)

// Checker performs a single probe attempt for a monitor. Implementations
// must honour ctx's deadline and report faults through the result; they
// never return errors.
type Checker interface {
	Check(ctx context.Context, m domain.Monitor) domain.CheckResult
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, m domain.Monitor) domain.CheckResult

func (f CheckerFunc) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	return f(ctx, m)
}

func fail(detail string, latency float64) domain.CheckResult {
	return domain.CheckResult{OK: false, Detail: detail, LatencyMS: latency}
}
