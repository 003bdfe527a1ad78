package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// PortChecker only establishes a TCP connection and closes it again; no
// bytes are exchanged.
type PortChecker struct {
	Dialer *net.Dialer
}

func NewPortChecker() *PortChecker {
	return &PortChecker{Dialer: &net.Dialer{KeepAlive: -1}}
}

func (c *PortChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	p := m.Port
	if p == nil || p.Host == "" || p.Port < 1 || p.Port > 65535 {
		return fail("malformed target: host and port required", 0)
	}
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))

	start := time.Now()
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	latency := since(start)
	if err != nil {
		return fail(classify(err), latency)
	}
	_ = conn.Close()
	return domain.CheckResult{OK: true, LatencyMS: latency, Detail: "connected to " + addr}
}
