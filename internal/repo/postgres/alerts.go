package postgres

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

func (s *Store) GetAlert(ctx context.Context, id domain.MonitorID) (*repo.AlertRecord, error) {
	const q = `SELECT last_status, last_sent_at FROM alerts WHERE monitor_id=$1`
	r := repo.AlertRecord{MonitorID: id}
	var (
		status   string
		lastSent *time.Time
	)
	err := s.pool.QueryRow(ctx, q, string(id)).Scan(&status, &lastSent)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	r.LastStatus = domain.Status(status)
	r.LastSentAt = lastSent
	return &r, nil
}

func (s *Store) SetAlert(ctx context.Context, id domain.MonitorID, status domain.Status, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (monitor_id, last_status, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (monitor_id)
		DO UPDATE SET last_status=EXCLUDED.last_status,
		              last_sent_at=COALESCE(EXCLUDED.last_sent_at, alerts.last_sent_at)
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, string(id), string(status), ts)
	return err
}
