package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Schema is applied by Migrate; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  monitor_ids TEXT[] NOT NULL DEFAULT '{}',
  monitoring  BOOLEAN NOT NULL DEFAULT TRUE,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS monitors (
  id                    TEXT PRIMARY KEY,
  site_id               TEXT NULL,
  name                  TEXT NOT NULL DEFAULT '',
  type                  TEXT NOT NULL,
  params                JSONB NOT NULL,
  check_interval_ms     INTEGER NOT NULL,
  timeout_ms            INTEGER NOT NULL,
  retry_attempts        INTEGER NOT NULL,
  monitoring            BOOLEAN NOT NULL,
  status                TEXT NOT NULL,
  paused_from           TEXT NOT NULL DEFAULT '',
  last_checked          TIMESTAMPTZ NULL,
  consecutive_failures  INTEGER NOT NULL DEFAULT 0,
  consecutive_successes INTEGER NOT NULL DEFAULT 0,
  created_at            TIMESTAMPTZ NOT NULL,
  updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
  id               BIGSERIAL PRIMARY KEY,
  monitor_id       TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
  ts               TIMESTAMPTZ NOT NULL,
  outcome          TEXT NOT NULL,
  response_time_ms DOUBLE PRECISION NOT NULL,
  details          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_history_monitor_ts ON history (monitor_id, ts DESC, id DESC);

CREATE TABLE IF NOT EXISTS alerts (
  monitor_id   TEXT PRIMARY KEY REFERENCES monitors(id) ON DELETE CASCADE,
  last_status  TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres_schema_ready")
	return nil
}

// params is the JSONB shape of the type-specific parameters.
type params struct {
	HTTP      *domain.HTTPParams      `json:"http,omitempty"`
	Port      *domain.PortParams      `json:"port,omitempty"`
	Ping      *domain.PingParams      `json:"ping,omitempty"`
	Heartbeat *domain.HeartbeatParams `json:"heartbeat,omitempty"`
}

// ---- MonitorStore ----

func (s *Store) SaveMonitor(ctx context.Context, m domain.Monitor) error {
	raw, err := json.Marshal(params{HTTP: m.HTTP, Port: m.Port, Ping: m.Ping, Heartbeat: m.Heartbeat})
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	var siteID *string
	if m.SiteID != "" {
		v := string(m.SiteID)
		siteID = &v
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO monitors
  (id, site_id, name, type, params, check_interval_ms, timeout_ms, retry_attempts,
   monitoring, status, paused_from, last_checked, consecutive_failures,
   consecutive_successes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  site_id=EXCLUDED.site_id, name=EXCLUDED.name, type=EXCLUDED.type,
  params=EXCLUDED.params, check_interval_ms=EXCLUDED.check_interval_ms,
  timeout_ms=EXCLUDED.timeout_ms, retry_attempts=EXCLUDED.retry_attempts,
  monitoring=EXCLUDED.monitoring, status=EXCLUDED.status,
  paused_from=EXCLUDED.paused_from, last_checked=EXCLUDED.last_checked,
  consecutive_failures=EXCLUDED.consecutive_failures,
  consecutive_successes=EXCLUDED.consecutive_successes,
  updated_at=EXCLUDED.updated_at`,
		string(m.ID), siteID, m.Name, string(m.Type), raw,
		m.CheckIntervalMS, m.TimeoutMS, m.RetryAttempts,
		m.Monitoring, string(m.Status), string(m.PausedFrom), m.LastChecked,
		m.ConsecutiveFailures, m.ConsecutiveSuccesses, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert monitor: %w", err)
	}
	return nil
}

func (s *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, COALESCE(site_id, ''), name, type, params, check_interval_ms, timeout_ms,
       retry_attempts, monitoring, status, paused_from, last_checked,
       consecutive_failures, consecutive_successes, created_at, updated_at
  FROM monitors
 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var out []domain.Monitor
	for rows.Next() {
		var (
			m                                   domain.Monitor
			id, siteID, typ, status, pausedFrom string
			raw                                 []byte
		)
		if err := rows.Scan(&id, &siteID, &m.Name, &typ, &raw, &m.CheckIntervalMS, &m.TimeoutMS,
			&m.RetryAttempts, &m.Monitoring, &status, &pausedFrom, &m.LastChecked,
			&m.ConsecutiveFailures, &m.ConsecutiveSuccesses, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		var p params
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Warn("postgres_bad_monitor_params", zap.String("monitor_id", id), zap.Error(err))
			continue
		}
		m.ID = domain.MonitorID(id)
		m.SiteID = domain.SiteID(siteID)
		m.Type = domain.MonitorType(typ)
		m.Status = domain.Status(status)
		m.PausedFrom = domain.Status(pausedFrom)
		m.HTTP, m.Port, m.Ping, m.Heartbeat = p.HTTP, p.Port, p.Ping, p.Heartbeat
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMonitor(ctx context.Context, id domain.MonitorID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete monitor %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---- SiteStore ----

func (s *Store) SaveSite(ctx context.Context, site domain.Site) error {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	ids := make([]string, 0, len(site.MonitorIDs))
	for _, id := range site.MonitorIDs {
		ids = append(ids, string(id))
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sites (id, name, monitor_ids, monitoring, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, monitor_ids=EXCLUDED.monitor_ids, monitoring=EXCLUDED.monitoring`,
		string(site.ID), site.Name, ids, site.Monitoring, site.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

func (s *Store) LoadSites(ctx context.Context) ([]domain.Site, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, monitor_ids, monitoring, created_at FROM sites ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []domain.Site
	for rows.Next() {
		var (
			id   string
			ids  []string
			site domain.Site
		)
		if err := rows.Scan(&id, &site.Name, &ids, &site.Monitoring, &site.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		site.ID = domain.SiteID(id)
		for _, mid := range ids {
			site.MonitorIDs = append(site.MonitorIDs, domain.MonitorID(mid))
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSite(ctx context.Context, id domain.SiteID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete site %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---- HistoryStore ----

func (s *Store) AppendHistory(ctx context.Context, id domain.MonitorID, e domain.HistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO history (monitor_id, ts, outcome, response_time_ms, details)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(id), e.Timestamp, string(e.Outcome), e.ResponseTimeMS, e.Details,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Store) LoadHistory(ctx context.Context, id domain.MonitorID, limit int) ([]domain.HistoryEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT ts, outcome, response_time_ms, details
  FROM history
 WHERE monitor_id = $1
 ORDER BY ts DESC, id DESC
 LIMIT $2`, string(id), lim)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e       domain.HistoryEntry
			outcome string
		)
		if err := rows.Scan(&e.Timestamp, &outcome, &e.ResponseTimeMS, &e.Details); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Outcome = domain.Status(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest-first from the index; callers want oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
