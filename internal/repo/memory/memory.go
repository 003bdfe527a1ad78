package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const defaultRetention = 10000

// Store keeps everything in process memory. History per monitor is trimmed
// to the retention limit, oldest first.
type Store struct {
	mu        sync.RWMutex
	sites     map[domain.SiteID]domain.Site
	monitors  map[domain.MonitorID]domain.Monitor
	history   map[domain.MonitorID][]domain.HistoryEntry
	alerts    map[domain.MonitorID]repo.AlertRecord
	retention int
}

func New(retention int) *Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{
		sites:     make(map[domain.SiteID]domain.Site),
		monitors:  make(map[domain.MonitorID]domain.Monitor),
		history:   make(map[domain.MonitorID][]domain.HistoryEntry),
		alerts:    make(map[domain.MonitorID]repo.AlertRecord),
		retention: retention,
	}
}

// ---- MonitorStore ----

func (m *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		out = append(out, mon.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) SaveMonitor(ctx context.Context, mon domain.Monitor) error {
	if mon.ID == "" {
		return fmt.Errorf("save monitor: %w: empty id", domain.ErrInvalidMonitor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors[mon.ID] = mon.Clone()
	return nil
}

func (m *Store) DeleteMonitor(ctx context.Context, id domain.MonitorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monitors[id]; !ok {
		return fmt.Errorf("delete monitor %s: %w", id, domain.ErrNotFound)
	}
	delete(m.monitors, id)
	delete(m.history, id)
	delete(m.alerts, id)
	return nil
}

// ---- SiteStore ----

func (m *Store) LoadSites(ctx context.Context) ([]domain.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Site, 0, len(m.sites))
	for _, s := range m.sites {
		s.MonitorIDs = append([]domain.MonitorID(nil), s.MonitorIDs...)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) SaveSite(ctx context.Context, s domain.Site) error {
	if s.ID == "" {
		return fmt.Errorf("save site: %w: empty id", domain.ErrInvalidSite)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.MonitorIDs = append([]domain.MonitorID(nil), s.MonitorIDs...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = s
	return nil
}

func (m *Store) DeleteSite(ctx context.Context, id domain.SiteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[id]; !ok {
		return fmt.Errorf("delete site %s: %w", id, domain.ErrNotFound)
	}
	delete(m.sites, id)
	return nil
}

// ---- HistoryStore ----

func (m *Store) AppendHistory(ctx context.Context, id domain.MonitorID, e domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[id], e)
	if over := len(h) - m.retention; over > 0 {
		h = append([]domain.HistoryEntry(nil), h[over:]...)
	}
	m.history[id] = h
	return nil
}

func (m *Store) LoadHistory(ctx context.Context, id domain.MonitorID, limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[id]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]domain.HistoryEntry(nil), h...), nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, id domain.MonitorID) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) SetAlert(ctx context.Context, id domain.MonitorID, status domain.Status, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	} else if prev, ok := m.alerts[id]; ok {
		ts = prev.LastSentAt
	}
	m.alerts[id] = repo.AlertRecord{MonitorID: id, LastStatus: status, LastSentAt: ts}
	return nil
}

var _ repo.Store = (*Store)(nil)
