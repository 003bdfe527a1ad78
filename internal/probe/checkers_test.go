package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/sitewatch/internal/domain"
)

func portMon(addr string) domain.Monitor {
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return domain.Monitor{ID: "P1", Type: domain.TypePort, Port: &domain.PortParams{Host: host, Port: port}}
}

func TestPortChecker_OpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	out := NewPortChecker().Check(context.Background(), portMon(ln.Addr().String()))
	assert.True(t, out.OK, "%+v", out)
}

func TestPortChecker_ClosedPortIsRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	out := NewPortChecker().Check(context.Background(), portMon(addr))
	assert.False(t, out.OK)
	assert.Equal(t, "connection refused", out.Detail)
}

func TestPortChecker_MalformedParams(t *testing.T) {
	out := NewPortChecker().Check(context.Background(), domain.Monitor{Type: domain.TypePort, Port: &domain.PortParams{Host: "x", Port: 0}})
	assert.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Detail, "malformed target"))
}

func TestPingChecker_MalformedAndUnresolvable(t *testing.T) {
	chk := NewPingChecker(false)
	out := chk.Check(context.Background(), domain.Monitor{Type: domain.TypePing})
	assert.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Detail, "malformed target"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out = chk.Check(ctx, domain.Monitor{Type: domain.TypePing, Ping: &domain.PingParams{Host: "does-not-exist.invalid"}})
	assert.False(t, out.OK)
	assert.NotEmpty(t, out.Detail)
}

func TestPingChecker_Loopback(t *testing.T) {
	if _, err := net.ListenPacket("udp4", "127.0.0.1:0"); err != nil {
		t.Skip("no udp sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := NewPingChecker(false).Check(ctx, domain.Monitor{Type: domain.TypePing, Ping: &domain.PingParams{Host: "127.0.0.1"}})
	if !out.OK && strings.HasPrefix(out.Detail, "permission denied") {
		t.Skipf("unprivileged icmp not permitted here: %s", out.Detail)
	}
	if !out.OK {
		t.Skipf("loopback ping unavailable in this environment: %s", out.Detail)
	}
	assert.Contains(t, out.Detail, "127.0.0.1")
}

func heartbeatServer(t *testing.T, payload map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func hbMon(url string) domain.Monitor {
	return domain.Monitor{ID: "HB", Type: domain.TypeHeartbeat, Heartbeat: &domain.HeartbeatParams{
		URL: url, StatusField: "data.status", ExpectedStatus: "ok", TimestampField: "data.ts", MaxDriftSeconds: 60,
	}}
}

func TestHeartbeatChecker_Healthy(t *testing.T) {
	now := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	s := heartbeatServer(t, map[string]any{"data": map[string]any{"status": "ok", "ts": now.Add(-5 * time.Second).Format(time.RFC3339)}})
	defer s.Close()

	chk := NewHeartbeatChecker()
	chk.Now = func() time.Time { return now }
	out := chk.Check(context.Background(), hbMon(s.URL))
	assert.True(t, out.OK, "%+v", out)
}

func TestHeartbeatChecker_DriftExceeded(t *testing.T) {
	now := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	s := heartbeatServer(t, map[string]any{"data": map[string]any{"status": "ok", "ts": now.Add(-120 * time.Second).Unix()}})
	defer s.Close()

	chk := NewHeartbeatChecker()
	chk.Now = func() time.Time { return now }
	out := chk.Check(context.Background(), hbMon(s.URL))
	require.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Detail, "drift exceeded"), out.Detail)
	assert.NotContains(t, out.Detail, "status mismatch")
}

func TestHeartbeatChecker_StatusMismatch(t *testing.T) {
	now := time.Now()
	s := heartbeatServer(t, map[string]any{"data": map[string]any{"status": "degraded", "ts": now.UnixMilli()}})
	defer s.Close()

	out := NewHeartbeatChecker().Check(context.Background(), hbMon(s.URL))
	require.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Detail, "status mismatch"), out.Detail)
}

func TestHeartbeatChecker_MalformedResponse(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer s.Close()

	out := NewHeartbeatChecker().Check(context.Background(), hbMon(s.URL))
	require.False(t, out.OK)
	assert.True(t, strings.HasPrefix(out.Detail, "malformed response"), out.Detail)

	missing := heartbeatServer(t, map[string]any{"data": map[string]any{"status": "ok"}})
	defer missing.Close()
	out = NewHeartbeatChecker().Check(context.Background(), hbMon(missing.URL))
	require.False(t, out.OK)
	assert.Contains(t, out.Detail, `missing field "data.ts"`)
}

func TestHeartbeatChecker_PostMethod(t *testing.T) {
	var method string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": "ok", "ts": time.Now().Unix()}})
	}))
	defer s.Close()

	m := hbMon(s.URL)
	m.Heartbeat.Method = http.MethodPost
	out := NewHeartbeatChecker().Check(context.Background(), m)
	assert.True(t, out.OK, "%+v", out)
	assert.Equal(t, http.MethodPost, method)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Unix(1755518400, 0)
	for _, v := range []any{json.Number("1755518400"), json.Number("1755518400000"), "1755518400", want.UTC().Format(time.RFC3339)} {
		got, err := parseTimestamp(v)
		require.NoError(t, err, "%v", v)
		assert.True(t, got.Equal(want), "%v parsed to %v", v, got)
	}
	_, err := parseTimestamp(true)
	assert.Error(t, err)
}

func TestRegistry_DispatchAndFaultIsolation(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.TypeHTTP, CheckerFunc(func(ctx context.Context, m domain.Monitor) domain.CheckResult {
		return domain.CheckResult{OK: true, Detail: "http"}
	}))
	r.Register(domain.TypePort, CheckerFunc(func(ctx context.Context, m domain.Monitor) domain.CheckResult {
		panic("bug in checker")
	}))
	r.Register(domain.TypePing, CheckerFunc(func(ctx context.Context, m domain.Monitor) domain.CheckResult {
		time.Sleep(300 * time.Millisecond) // ignores its deadline
		return domain.CheckResult{OK: true}
	}))

	out := r.Check(context.Background(), domain.Monitor{Type: domain.TypeHTTP})
	assert.Equal(t, "http", out.Detail)

	out = r.Check(context.Background(), domain.Monitor{Type: domain.TypePort})
	assert.False(t, out.OK)
	assert.Contains(t, out.Detail, "internal fault")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	out = r.Check(ctx, domain.Monitor{Type: domain.TypePing})
	assert.False(t, out.OK)
	assert.Equal(t, DetailTimeout, out.Detail)
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	out = r.Check(context.Background(), domain.Monitor{Type: domain.TypeHeartbeat})
	assert.False(t, out.OK)
	assert.Contains(t, out.Detail, "no checker")
}
