package repo

import (
	"context"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Ports; the engine never sees storage formats or
// transactions. Monitor writes are last-write-wins; history appends need
// at-least-once durability.
type MonitorStore interface {
	LoadMonitors(ctx context.Context) ([]domain.Monitor, error)
	SaveMonitor(ctx context.Context, m domain.Monitor) error
	DeleteMonitor(ctx context.Context, id domain.MonitorID) error
}

type SiteStore interface {
	LoadSites(ctx context.Context) ([]domain.Site, error)
	SaveSite(ctx context.Context, s domain.Site) error
	DeleteSite(ctx context.Context, id domain.SiteID) error
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, id domain.MonitorID, e domain.HistoryEntry) error
	// LoadHistory returns up to limit most recent entries, oldest first.
	LoadHistory(ctx context.Context, id domain.MonitorID, limit int) ([]domain.HistoryEntry, error)
}

// Store is everything a full persistence adapter provides.
type Store interface {
	MonitorStore
	SiteStore
	HistoryStore
	AlertStore
}
