package repo

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// AlertRecord holds the last up/down state we alerted on for a monitor and
// the last time a notification went out (used for cooldown).
type AlertRecord struct {
	MonitorID  domain.MonitorID
	LastStatus domain.Status
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, id domain.MonitorID) (*AlertRecord, error)
	// SetAlert upserts the record. If sentAt.IsZero() no send time is stored.
	SetAlert(ctx context.Context, id domain.MonitorID, status domain.Status, sentAt time.Time) error
}
