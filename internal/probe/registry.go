package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Registry is the dispatch table from monitor type to checker. It also
// isolates the engine from checker faults: panics become failed results
// and a checker that ignores its deadline has its late result discarded.
type Registry struct {
	checkers map[domain.MonitorType]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[domain.MonitorType]Checker, len(domain.MonitorTypes))}
}

// DefaultRegistry wires the four built-in checkers.
func DefaultRegistry(privilegedPing bool) *Registry {
	r := NewRegistry()
	r.Register(domain.TypeHTTP, NewHTTPChecker())
	r.Register(domain.TypePort, NewPortChecker())
	r.Register(domain.TypePing, NewPingChecker(privilegedPing))
	r.Register(domain.TypeHeartbeat, NewHeartbeatChecker())
	return r
}

func (r *Registry) Register(t domain.MonitorType, c Checker) {
	r.checkers[t] = c
}

func (r *Registry) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	c, ok := r.checkers[m.Type]
	if !ok {
		return fail(fmt.Sprintf("internal fault: no checker for type %q", m.Type), 0)
	}

	start := time.Now()
	done := make(chan domain.CheckResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fail(fmt.Sprintf("internal fault: %v", p), since(start))
			}
		}()
		done <- c.Check(ctx, m)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		detail := DetailTimeout
		if ctx.Err() == context.Canceled {
			detail = DetailCanceled
		}
		return fail(detail, since(start))
	}
}
