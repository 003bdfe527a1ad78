package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/engine"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/history"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

// ---- test helpers ----

const (
	pubKey = "pub_test"
	admKey = "adm_test"
)

type apiFixture struct {
	ts  *httptest.Server
	bus *events.Bus
}

func setupAPI(t *testing.T, chk probe.Checker) *apiFixture {
	t.Helper()
	log := zap.NewNop()
	store := memory.New(0)
	bus := events.NewBus(log)
	rec := history.NewRecorder(store, log, 20)
	sched := scheduler.New(scheduler.Config{Logger: log, Checker: chk, History: rec, Events: bus, Monitors: store})
	var n atomic.Int64
	eng := engine.New(engine.Config{
		Logger: log, Store: store, Scheduler: sched, History: rec,
		NewID: func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	})

	srv := NewServer(log, eng, bus)
	srv.KeepAlive = 20 * time.Millisecond
	keys := apimw.Keys{Public: []string{pubKey}, Admin: []string{admKey}}
	// very high rate limits to avoid flakiness
	ts := httptest.NewServer(srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000))

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
		bus.Close()
	})
	return &apiFixture{ts: ts, bus: bus}
}

func okChecker() probe.Checker {
	return probe.CheckerFunc(func(context.Context, domain.Monitor) domain.CheckResult {
		return domain.CheckResult{OK: true, StatusCode: 200, LatencyMS: 12.5, Detail: "200 OK"}
	})
}

func (f *apiFixture) do(t *testing.T, method, path, key string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

// ---- tests ----

func TestMonitorLifecycleOverHTTP(t *testing.T) {
	f := setupAPI(t, okChecker())

	// 1) add
	resp, raw := f.do(t, http.MethodPost, "/api/monitors", admKey, map[string]any{
		"name":              "homepage",
		"type":              "http",
		"http":              map[string]any{"url": "https://example.com"},
		"check_interval_ms": 60000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var m domain.Monitor
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.NotEmpty(t, m.ID)

	// 2) check now
	resp, raw = f.do(t, http.MethodPost, "/api/monitors/"+string(m.ID)+"/check", admKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var u domain.StatusUpdate
	require.NoError(t, json.Unmarshal(raw, &u))
	assert.Equal(t, domain.StatusUp, u.NewStatus)
	assert.Nil(t, u.PreviousStatus)

	// 3) history + stats with a public key
	resp, raw = f.do(t, http.MethodGet, "/api/monitors/"+string(m.ID)+"/history?limit=5", pubKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h []domain.HistoryEntry
	require.NoError(t, json.Unmarshal(raw, &h))
	require.Len(t, h, 1)
	assert.Equal(t, domain.StatusUp, h[0].Outcome)

	resp, raw = f.do(t, http.MethodGet, "/api/monitors/"+string(m.ID)+"/stats", pubKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st history.Stats
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, 1, st.Up)

	// 4) start / stop
	resp, raw = f.do(t, http.MethodPost, "/api/monitors/"+string(m.ID)+"/start", admKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.True(t, m.Monitoring)

	resp, raw = f.do(t, http.MethodPost, "/api/monitors/"+string(m.ID)+"/stop", admKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, domain.StatusPaused, m.Status)

	// 5) update keeps state
	resp, raw = f.do(t, http.MethodPut, "/api/monitors/"+string(m.ID), admKey, map[string]any{
		"type": "http",
		"http": map[string]any{"url": "https://example.org", "expected_status": []int{200, 204}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "https://example.org", m.HTTP.URL)
	assert.Equal(t, domain.StatusPaused, m.Status)

	// 6) list then delete
	resp, raw = f.do(t, http.MethodGet, "/api/monitors", pubKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.Monitor
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/monitors/"+string(m.ID), admKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/monitors/"+string(m.ID), pubKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddMonitor_Rejections(t *testing.T) {
	f := setupAPI(t, okChecker())

	cases := []struct {
		name string
		body any
	}{
		{"invalid url", map[string]any{"type": "http", "http": map[string]any{"url": "ftp://x"}}},
		{"type mismatch", map[string]any{"type": "port", "http": map[string]any{"url": "https://x.com"}}},
		{"unknown field", map[string]any{"type": "http", "status": "up"}},
		{"interval below minimum", map[string]any{
			"type": "http", "http": map[string]any{"url": "https://x.com"}, "check_interval_ms": 10,
		}},
	}
	for _, c := range cases {
		resp, raw := f.do(t, http.MethodPost, "/api/monitors", admKey, c.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s: %s", c.name, raw)
	}

	resp, _ := f.do(t, http.MethodGet, "/api/monitors", pubKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/monitors/x/history?limit=-1", pubKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSitesOverHTTP(t *testing.T) {
	f := setupAPI(t, okChecker())

	resp, raw := f.do(t, http.MethodPost, "/api/sites", admKey, map[string]any{"name": "shop"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var site domain.Site
	require.NoError(t, json.Unmarshal(raw, &site))

	resp, raw = f.do(t, http.MethodPost, "/api/monitors", admKey, map[string]any{
		"site_id": site.ID, "type": "port", "port": map[string]any{"host": "db.internal", "port": 5432},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	resp, raw = f.do(t, http.MethodPost, "/api/sites/"+string(site.ID)+"/start", admKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &site))
	assert.True(t, site.Monitoring)
	assert.Len(t, site.MonitorIDs, 1)

	resp, _ = f.do(t, http.MethodPost, "/api/monitoring/stop", admKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/sites/"+string(site.ID), admKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = f.do(t, http.MethodGet, "/api/monitors", pubKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))
}
