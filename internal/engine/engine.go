// Package engine is the inbound command surface: it validates monitor and
// site commands, keeps sites and monitors in the store, and drives the
// scheduler.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/history"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

// warmParallelism bounds concurrent history loads at boot.
const warmParallelism = 8

type Config struct {
	Logger    *zap.Logger
	Store     repo.Store
	Scheduler *scheduler.Scheduler
	History   *history.Recorder
	Limits    domain.Limits
	Retry     repo.Retry
	Now       func() time.Time
	NewID     func() string
}

type Engine struct {
	log     *zap.Logger
	store   repo.Store
	sched   *scheduler.Scheduler
	history *history.Recorder
	limits  domain.Limits
	retry   repo.Retry
	now     func() time.Time
	newID   func() string

	// mu serialises structural commands and guards sites.
	mu    sync.Mutex
	sites map[domain.SiteID]domain.Site
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Limits == (domain.Limits{}) {
		cfg.Limits = domain.DefaultLimits()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = repo.DefaultRetry()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		log:     cfg.Logger,
		store:   cfg.Store,
		sched:   cfg.Scheduler,
		history: cfg.History,
		limits:  cfg.Limits,
		retry:   cfg.Retry,
		now:     cfg.Now,
		newID:   cfg.NewID,
		sites:   make(map[domain.SiteID]domain.Site),
	}
}

// ---- monitors ----

// AddMonitor validates and registers a new monitor. It starts right away
// when m.Monitoring is set and its site (if any) is monitoring; otherwise it
// stays pending until StartMonitoring.
func (e *Engine) AddMonitor(ctx context.Context, m domain.Monitor) (domain.Monitor, error) {
	m.ApplyDefaults(e.limits)
	if err := m.Validate(e.limits); err != nil {
		return domain.Monitor{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := m.Monitoring
	var site domain.Site
	if m.SiteID != "" {
		s, ok := e.sites[m.SiteID]
		if !ok {
			return domain.Monitor{}, fmt.Errorf("add monitor: site %s: %w", m.SiteID, domain.ErrNotFound)
		}
		site = s
		start = start && s.Monitoring
	}

	now := e.now()
	m.ID = domain.MonitorID(e.newID())
	m.Status = domain.StatusPending
	m.PausedFrom = ""
	m.LastChecked = nil
	m.ConsecutiveFailures, m.ConsecutiveSuccesses = 0, 0
	m.CreatedAt, m.UpdatedAt = now, now
	m.Monitoring = false

	if err := e.save(ctx, func(ctx context.Context) error { return e.store.SaveMonitor(ctx, m) }); err != nil {
		return domain.Monitor{}, fmt.Errorf("add monitor: %w", err)
	}
	if err := e.sched.Register(m); err != nil {
		return domain.Monitor{}, err
	}
	if site.ID != "" {
		site.MonitorIDs = append(site.MonitorIDs, m.ID)
		e.sites[site.ID] = site
		e.saveSite(ctx, site)
	}
	e.log.Info("monitor_added",
		zap.String("monitor_id", string(m.ID)),
		zap.String("type", string(m.Type)),
		zap.String("target", m.Target()),
	)

	if start {
		if err := e.sched.Start(m.ID); err != nil {
			return domain.Monitor{}, err
		}
	}
	return e.sched.Get(m.ID)
}

// UpdateMonitor replaces a monitor's configuration. Runtime state is kept
// and the running schedule picks up the new interval on its next tick.
func (e *Engine) UpdateMonitor(ctx context.Context, id domain.MonitorID, m domain.Monitor) (domain.Monitor, error) {
	m.ID = id
	m.Status = domain.StatusPending
	m.ApplyDefaults(e.limits)
	if err := m.Validate(e.limits); err != nil {
		return domain.Monitor{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.sched.Update(m)
	if err != nil {
		return domain.Monitor{}, err
	}
	e.log.Info("monitor_updated", zap.String("monitor_id", string(id)))
	return out, nil
}

func (e *Engine) RemoveMonitor(ctx context.Context, id domain.MonitorID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeMonitorLocked(ctx, id)
}

func (e *Engine) removeMonitorLocked(ctx context.Context, id domain.MonitorID) error {
	m, err := e.sched.Get(id)
	if err != nil {
		return err
	}
	if err := e.sched.Remove(id); err != nil {
		return err
	}
	err = e.save(ctx, func(ctx context.Context) error { return e.store.DeleteMonitor(ctx, id) })
	if err != nil {
		e.log.Warn("monitor_delete_failed", zap.String("monitor_id", string(id)), zap.Error(err))
	}
	if s, ok := e.sites[m.SiteID]; ok {
		s.MonitorIDs = without(s.MonitorIDs, id)
		e.sites[s.ID] = s
		e.saveSite(ctx, s)
	}
	return nil
}

func (e *Engine) StartMonitoring(id domain.MonitorID) error { return e.sched.Start(id) }

func (e *Engine) StopMonitoring(id domain.MonitorID) error { return e.sched.Stop(id) }

// StartAll starts every monitor; failures are collected, not fatal.
func (e *Engine) StartAll() error { return e.sched.StartAll() }

func (e *Engine) StopAll() error { return e.sched.StopAll() }

// CheckNow runs one cycle immediately, independent of the schedule.
func (e *Engine) CheckNow(ctx context.Context, id domain.MonitorID) (domain.StatusUpdate, error) {
	return e.sched.TriggerNow(ctx, id)
}

func (e *Engine) GetMonitor(id domain.MonitorID) (domain.Monitor, error) {
	return e.sched.Get(id)
}

// ListMonitors returns every monitor, oldest first.
func (e *Engine) ListMonitors() []domain.Monitor {
	out := e.sched.List()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (e *Engine) History(id domain.MonitorID, limit int) ([]domain.HistoryEntry, error) {
	if _, err := e.sched.Get(id); err != nil {
		return nil, err
	}
	return e.history.Recent(id, limit), nil
}

func (e *Engine) Stats(id domain.MonitorID) (history.Stats, error) {
	if _, err := e.sched.Get(id); err != nil {
		return history.Stats{}, err
	}
	return e.history.Stats(id), nil
}

// ---- sites ----

func (e *Engine) AddSite(ctx context.Context, name string, monitoring bool) (domain.Site, error) {
	s := domain.Site{
		ID:         domain.SiteID(e.newID()),
		Name:       name,
		Monitoring: monitoring,
		CreatedAt:  e.now(),
	}
	if err := s.Validate(); err != nil {
		return domain.Site{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.save(ctx, func(ctx context.Context) error { return e.store.SaveSite(ctx, s) }); err != nil {
		return domain.Site{}, fmt.Errorf("add site: %w", err)
	}
	e.sites[s.ID] = s
	e.log.Info("site_added", zap.String("site_id", string(s.ID)), zap.String("name", s.Name))
	return s, nil
}

// RemoveSite deletes the site together with all of its monitors.
func (e *Engine) RemoveSite(ctx context.Context, id domain.SiteID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sites[id]
	if !ok {
		return fmt.Errorf("remove site %s: %w", id, domain.ErrNotFound)
	}
	var errs error
	for _, mid := range append([]domain.MonitorID(nil), s.MonitorIDs...) {
		if err := e.removeMonitorLocked(ctx, mid); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	delete(e.sites, id)
	if err := e.save(ctx, func(ctx context.Context) error { return e.store.DeleteSite(ctx, id) }); err != nil {
		errs = multierr.Append(errs, err)
	}
	e.log.Info("site_removed", zap.String("site_id", string(id)), zap.Int("monitors", len(s.MonitorIDs)))
	return errs
}

// SetSiteMonitoring starts or stops every monitor of the site.
func (e *Engine) SetSiteMonitoring(ctx context.Context, id domain.SiteID, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sites[id]
	if !ok {
		return fmt.Errorf("site %s: %w", id, domain.ErrNotFound)
	}
	var errs error
	for _, mid := range s.MonitorIDs {
		var err error
		if on {
			err = e.sched.Start(mid)
		} else {
			err = e.sched.Stop(mid)
		}
		errs = multierr.Append(errs, err)
	}
	s.Monitoring = on
	e.sites[id] = s
	e.saveSite(ctx, s)
	return errs
}

func (e *Engine) GetSite(id domain.SiteID) (domain.Site, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sites[id]
	if !ok {
		return domain.Site{}, fmt.Errorf("site %s: %w", id, domain.ErrNotFound)
	}
	s.MonitorIDs = append([]domain.MonitorID(nil), s.MonitorIDs...)
	return s, nil
}

func (e *Engine) ListSites() []domain.Site {
	e.mu.Lock()
	out := make([]domain.Site, 0, len(e.sites))
	for _, s := range e.sites {
		s.MonitorIDs = append([]domain.MonitorID(nil), s.MonitorIDs...)
		out = append(out, s)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close stops every monitor and waits for in-flight cycles.
func (e *Engine) Close(ctx context.Context) error {
	return e.sched.Close(ctx)
}

// ---- helpers ----

func (e *Engine) save(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.retry.Do(ctx, fn)
}

func (e *Engine) saveSite(ctx context.Context, s domain.Site) {
	if err := e.save(ctx, func(ctx context.Context) error { return e.store.SaveSite(ctx, s) }); err != nil {
		e.log.Warn("site_save_failed", zap.String("site_id", string(s.ID)), zap.Error(err))
	}
}

func without(ids []domain.MonitorID, id domain.MonitorID) []domain.MonitorID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
