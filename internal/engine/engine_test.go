package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/history"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

type fixture struct {
	eng   *Engine
	store *memory.Store
	bus   *events.Bus
	sched *scheduler.Scheduler
}

func newFixture(t *testing.T, store *memory.Store, chk probe.Checker) *fixture {
	t.Helper()
	log := zap.NewNop()
	if store == nil {
		store = memory.New(0)
	}
	if chk == nil {
		chk = probe.CheckerFunc(func(context.Context, domain.Monitor) domain.CheckResult {
			return domain.CheckResult{OK: true, LatencyMS: 2, Detail: "ok"}
		})
	}
	bus := events.NewBus(log)
	rec := history.NewRecorder(store, log, 50)
	sched := scheduler.New(scheduler.Config{
		Logger: log, Checker: chk, History: rec, Events: bus, Monitors: store, Strict: true,
	})
	var n atomic.Int64
	eng := New(Config{
		Logger:    log,
		Store:     store,
		Scheduler: sched,
		History:   rec,
		NewID:     func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
		bus.Close()
	})
	return &fixture{eng: eng, store: store, bus: bus, sched: sched}
}

func httpMonitor(url string) domain.Monitor {
	return domain.Monitor{
		Type:            domain.TypeHTTP,
		HTTP:            &domain.HTTPParams{URL: url},
		CheckIntervalMS: 60000,
	}
}

func TestAddMonitor_ValidatesBeforeScheduling(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.eng.AddMonitor(context.Background(), domain.Monitor{
		Type: domain.TypeHTTP,
		HTTP: &domain.HTTPParams{URL: "not a url"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidMonitor)
	assert.Empty(t, f.eng.ListMonitors())
	assert.Zero(t, f.sched.ActiveTimers())
}

func TestAddMonitor_AssignsIDAndStarts(t *testing.T) {
	f := newFixture(t, nil, nil)
	m := httpMonitor("https://example.com")
	m.Monitoring = true

	got, err := f.eng.AddMonitor(context.Background(), m)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, got.Monitoring)
	assert.Equal(t, "https://example.com", got.Name)
	assert.True(t, f.sched.Running(got.ID))

	saved, err := f.store.LoadMonitors(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Monitoring)
}

func TestAddMonitor_UnknownSite(t *testing.T) {
	f := newFixture(t, nil, nil)
	m := httpMonitor("https://example.com")
	m.SiteID = "nope"
	_, err := f.eng.AddMonitor(context.Background(), m)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddMonitor_StaysIdleOnPausedSite(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	site, err := f.eng.AddSite(ctx, "Shop", false)
	require.NoError(t, err)

	m := httpMonitor("https://shop.example.com")
	m.SiteID = site.ID
	m.Monitoring = true
	got, err := f.eng.AddMonitor(ctx, m)
	require.NoError(t, err)
	assert.False(t, got.Monitoring)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.False(t, f.sched.Running(got.ID))

	require.NoError(t, f.eng.SetSiteMonitoring(ctx, site.ID, true))
	assert.True(t, f.sched.Running(got.ID))
}

func TestCheckNow_RecordsHistoryAndStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	chk := probe.NewRetryChecker(probe.DefaultRegistry(false), time.Millisecond, 10*time.Millisecond)
	f := newFixture(t, nil, chk)
	ctx := context.Background()

	m, err := f.eng.AddMonitor(ctx, httpMonitor(ts.URL))
	require.NoError(t, err)

	u, err := f.eng.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUp, u.NewStatus)

	h, err := f.eng.History(m.ID, 10)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, domain.StatusUp, h[0].Outcome)

	st, err := f.eng.Stats(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 100.0, st.UptimePercent)

	persisted, err := f.store.LoadHistory(ctx, m.ID, 0)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestUpdateMonitor_KeepsStateAndRevalidates(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	m, err := f.eng.AddMonitor(ctx, httpMonitor("https://a.example.com"))
	require.NoError(t, err)
	_, err = f.eng.CheckNow(ctx, m.ID)
	require.NoError(t, err)

	bad := httpMonitor("ftp://nope")
	_, err = f.eng.UpdateMonitor(ctx, m.ID, bad)
	require.ErrorIs(t, err, domain.ErrInvalidMonitor)

	next := httpMonitor("https://b.example.com")
	next.CheckIntervalMS = 120000
	got, err := f.eng.UpdateMonitor(ctx, m.ID, next)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com", got.HTTP.URL)
	assert.Equal(t, domain.StatusUp, got.Status)
	assert.Equal(t, 120000, got.CheckIntervalMS)

	_, err = f.eng.UpdateMonitor(ctx, "missing", next)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartStop_PauseAndResume(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	m, err := f.eng.AddMonitor(ctx, httpMonitor("https://example.com"))
	require.NoError(t, err)
	_, err = f.eng.CheckNow(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, f.eng.StartMonitoring(m.ID))
	require.NoError(t, f.eng.StopMonitoring(m.ID))
	got, _ := f.eng.GetMonitor(m.ID)
	assert.Equal(t, domain.StatusPaused, got.Status)

	require.NoError(t, f.eng.StartMonitoring(m.ID))
	got, _ = f.eng.GetMonitor(m.ID)
	assert.Equal(t, domain.StatusUp, got.Status)
	assert.True(t, got.Monitoring)

	require.NoError(t, f.eng.StopAll())
	assert.Zero(t, f.sched.ActiveTimers())
}

func TestRemoveMonitor(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	m, err := f.eng.AddMonitor(ctx, httpMonitor("https://example.com"))
	require.NoError(t, err)

	require.NoError(t, f.eng.RemoveMonitor(ctx, m.ID))
	_, err = f.eng.GetMonitor(m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	saved, _ := f.store.LoadMonitors(ctx)
	assert.Empty(t, saved)

	assert.ErrorIs(t, f.eng.RemoveMonitor(ctx, m.ID), domain.ErrNotFound)
	_, err = f.eng.History(m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSites_MonitoringAndCascade(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	site, err := f.eng.AddSite(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSiteName, site.Name)

	var ids []domain.MonitorID
	for _, u := range []string{"https://a.example.com", "https://b.example.com"} {
		m := httpMonitor(u)
		m.SiteID = site.ID
		got, err := f.eng.AddMonitor(ctx, m)
		require.NoError(t, err)
		ids = append(ids, got.ID)
	}
	got, err := f.eng.GetSite(site.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got.MonitorIDs)

	require.NoError(t, f.eng.SetSiteMonitoring(ctx, site.ID, true))
	assert.Equal(t, 2, f.sched.ActiveTimers())
	require.NoError(t, f.eng.SetSiteMonitoring(ctx, site.ID, false))
	assert.Zero(t, f.sched.ActiveTimers())

	require.NoError(t, f.eng.RemoveMonitor(ctx, ids[0]))
	got, _ = f.eng.GetSite(site.ID)
	assert.Equal(t, []domain.MonitorID{ids[1]}, got.MonitorIDs)

	require.NoError(t, f.eng.RemoveSite(ctx, site.ID))
	assert.Empty(t, f.eng.ListSites())
	assert.Empty(t, f.eng.ListMonitors())
	assert.ErrorIs(t, f.eng.RemoveSite(ctx, site.ID), domain.ErrNotFound)
}

func TestLoad_RestoresAndStartsRunningMonitors(t *testing.T) {
	ctx := context.Background()
	store := memory.New(0)
	now := time.Now().UTC()
	checked := now.Add(-time.Minute)

	running := httpMonitor("https://a.example.com")
	running.ID, running.Monitoring, running.Status, running.LastChecked = "run", true, domain.StatusDown, &checked
	running.ApplyDefaults(domain.DefaultLimits())
	idle := httpMonitor("https://b.example.com")
	idle.ID, idle.Status, idle.PausedFrom = "idle", domain.StatusPaused, domain.StatusUp
	idle.ApplyDefaults(domain.DefaultLimits())
	broken := httpMonitor("https://c.example.com")
	broken.ID, broken.Monitoring, broken.CheckIntervalMS = "broken", true, -1

	for _, m := range []domain.Monitor{running, idle, broken} {
		require.NoError(t, store.SaveMonitor(ctx, m))
	}
	require.NoError(t, store.SaveSite(ctx, domain.Site{ID: "s1", Name: "shop", MonitorIDs: []domain.MonitorID{"run"}}))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendHistory(ctx, "run", domain.HistoryEntry{Timestamp: now, Outcome: domain.StatusDown}))
	}

	f := newFixture(t, store, nil)
	err := f.eng.Load(ctx)
	require.Error(t, err, "broken monitor must be reported")
	assert.ErrorIs(t, err, domain.ErrInvalidMonitor)

	assert.True(t, f.sched.Running("run"))
	assert.False(t, f.sched.Running("idle"))
	assert.False(t, f.sched.Running("broken"))
	assert.Len(t, f.eng.ListMonitors(), 3)
	assert.Len(t, f.eng.ListSites(), 1)

	h, err := f.eng.History("run", 0)
	require.NoError(t, err)
	assert.Len(t, h, 3)

	got, _ := f.eng.GetMonitor("run")
	assert.Equal(t, domain.StatusDown, got.Status)
}

func TestSeed_OnlyAppliesToEmptyEngine(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	seed, err := config.ParseSeed([]byte(`
sites:
  - name: Shop
    monitoring: true
    monitors:
      - name: storefront
        type: http
        http: {url: "https://shop.example.com"}
      - name: bad
        type: port
        port: {host: "", port: 0}
monitors:
  - name: gateway
    type: ping
    monitoring: false
    ping: {host: 10.0.0.1}
`))
	require.NoError(t, err)

	err = f.eng.Seed(ctx, seed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidMonitor))

	require.Len(t, f.eng.ListSites(), 1)
	require.Len(t, f.eng.ListMonitors(), 2)
	assert.Equal(t, 1, f.sched.ActiveTimers())

	require.NoError(t, f.eng.Seed(ctx, seed))
	assert.Len(t, f.eng.ListMonitors(), 2)
}
