// Package history keeps the bounded, time-ordered check log per monitor and
// forwards every entry to the persistence collaborator.
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const DefaultCap = 100

type Stats struct {
	Total             int        `json:"total"`
	Up                int        `json:"up"`
	Down              int        `json:"down"`
	UptimePercent     float64    `json:"uptime_percent"`
	AvgResponseTimeMS float64    `json:"avg_response_time_ms"`
	LastChecked       *time.Time `json:"last_checked,omitempty"`
}

type Recorder struct {
	store repo.HistoryStore
	log   *zap.Logger
	cap   int
	retry repo.Retry

	mu    sync.RWMutex
	rings map[domain.MonitorID]*ring
}

func NewRecorder(store repo.HistoryStore, log *zap.Logger, capacity int) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Recorder{
		store: store,
		log:   log,
		cap:   capacity,
		retry: repo.DefaultRetry(),
		rings: make(map[domain.MonitorID]*ring),
	}
}

func (r *Recorder) Cap() int { return r.cap }

// Append adds the entry to the in-memory window and persists it. The window
// is updated even when the store keeps failing; the error is returned so the
// caller can log it, but the schedule is never affected.
func (r *Recorder) Append(ctx context.Context, id domain.MonitorID, e domain.HistoryEntry) error {
	r.Record(id, e)
	return r.Persist(ctx, id, e)
}

// Record pushes the entry into the in-memory window only.
func (r *Recorder) Record(id domain.MonitorID, e domain.HistoryEntry) {
	r.mu.Lock()
	rg := r.rings[id]
	if rg == nil {
		rg = newRing(r.cap)
		r.rings[id] = rg
	}
	rg.push(e)
	r.mu.Unlock()
}

// Persist writes the entry to the store, retrying transient failures.
func (r *Recorder) Persist(ctx context.Context, id domain.MonitorID, e domain.HistoryEntry) error {
	if r.store == nil {
		return nil
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.AppendHistory(ctx, id, e)
	})
	if err != nil {
		r.log.Warn("history_append_failed",
			zap.String("monitor_id", string(id)),
			zap.Error(err),
		)
	}
	return err
}

// Warm seeds the window from the store, typically at boot.
func (r *Recorder) Warm(ctx context.Context, id domain.MonitorID) error {
	if r.store == nil {
		return nil
	}
	entries, err := r.store.LoadHistory(ctx, id, r.cap)
	if err != nil {
		return err
	}
	rg := newRing(r.cap)
	for _, e := range entries {
		rg.push(e)
	}
	r.mu.Lock()
	r.rings[id] = rg
	r.mu.Unlock()
	return nil
}

// Recent returns up to limit of the newest entries, oldest first. A
// non-positive limit returns the whole window.
func (r *Recorder) Recent(id domain.MonitorID, limit int) []domain.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg := r.rings[id]
	if rg == nil {
		return nil
	}
	all := rg.items()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func (r *Recorder) Len(id domain.MonitorID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rg := r.rings[id]; rg != nil {
		return rg.n
	}
	return 0
}

// Stats aggregates the current window.
func (r *Recorder) Stats(id domain.MonitorID) Stats {
	var s Stats
	var latency float64
	for _, e := range r.Recent(id, 0) {
		s.Total++
		if e.Outcome == domain.StatusUp {
			s.Up++
		} else {
			s.Down++
		}
		latency += e.ResponseTimeMS
		ts := e.Timestamp
		s.LastChecked = &ts
	}
	if s.Total > 0 {
		s.UptimePercent = float64(s.Up) * 100 / float64(s.Total)
		s.AvgResponseTimeMS = latency / float64(s.Total)
	}
	return s
}

// Forget drops the in-memory window; persisted history is untouched.
func (r *Recorder) Forget(id domain.MonitorID) {
	r.mu.Lock()
	delete(r.rings, id)
	r.mu.Unlock()
}
