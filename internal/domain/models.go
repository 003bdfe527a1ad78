package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidMonitor = errors.New("invalid monitor")
	ErrInvalidSite    = errors.New("invalid site")
)

type SiteID string

type MonitorID string

// DefaultSiteName is used when a site is registered without a display name.
const DefaultSiteName = "Unnamed site"

type Site struct {
	ID         SiteID      `json:"id"`
	Name       string      `json:"name"`
	MonitorIDs []MonitorID `json:"monitor_ids"`
	Monitoring bool        `json:"monitoring"`
	CreatedAt  time.Time   `json:"created_at"`
}

type MonitorType string

const (
	TypeHTTP      MonitorType = "http"
	TypePort      MonitorType = "port"
	TypePing      MonitorType = "ping"
	TypeHeartbeat MonitorType = "heartbeat"
)

// MonitorTypes lists every supported type in dispatch order.
var MonitorTypes = []MonitorType{TypeHTTP, TypePort, TypePing, TypeHeartbeat}

type Status string

const (
	StatusPending Status = "pending"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusPaused  Status = "paused"
)

type HTTPParams struct {
	URL             string `json:"url" yaml:"url"`
	Method          string `json:"method,omitempty" yaml:"method"`
	ExpectedStatus  []int  `json:"expected_status,omitempty" yaml:"expected_status"`
	FollowRedirects bool   `json:"follow_redirects" yaml:"follow_redirects"`
}

type PortParams struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

type PingParams struct {
	Host string `json:"host" yaml:"host"`
}

type HeartbeatParams struct {
	URL             string `json:"url" yaml:"url"`
	Method          string `json:"method,omitempty" yaml:"method"`
	StatusField     string `json:"status_field" yaml:"status_field"`
	ExpectedStatus  string `json:"expected_status" yaml:"expected_status"`
	TimestampField  string `json:"timestamp_field" yaml:"timestamp_field"`
	MaxDriftSeconds int    `json:"max_drift_seconds" yaml:"max_drift_seconds"`
}

// Monitor is one independently scheduled check. Exactly one of the params
// pointers is set and it must match Type.
type Monitor struct {
	ID     MonitorID   `json:"id"`
	SiteID SiteID      `json:"site_id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Type   MonitorType `json:"type"`

	HTTP      *HTTPParams      `json:"http,omitempty"`
	Port      *PortParams      `json:"port,omitempty"`
	Ping      *PingParams      `json:"ping,omitempty"`
	Heartbeat *HeartbeatParams `json:"heartbeat,omitempty"`

	CheckIntervalMS int  `json:"check_interval_ms"`
	TimeoutMS       int  `json:"timeout_ms"`
	RetryAttempts   int  `json:"retry_attempts"`
	Monitoring      bool `json:"monitoring"`

	Status      Status     `json:"status"`
	PausedFrom  Status     `json:"paused_from,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`

	ConsecutiveFailures  int `json:"consecutive_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m Monitor) Interval() time.Duration {
	return time.Duration(m.CheckIntervalMS) * time.Millisecond
}

func (m Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Clone returns a deep copy so snapshots can be handed to other goroutines.
func (m Monitor) Clone() Monitor {
	c := m
	if m.HTTP != nil {
		h := *m.HTTP
		h.ExpectedStatus = append([]int(nil), m.HTTP.ExpectedStatus...)
		c.HTTP = &h
	}
	if m.Port != nil {
		p := *m.Port
		c.Port = &p
	}
	if m.Ping != nil {
		p := *m.Ping
		c.Ping = &p
	}
	if m.Heartbeat != nil {
		h := *m.Heartbeat
		c.Heartbeat = &h
	}
	if m.LastChecked != nil {
		t := *m.LastChecked
		c.LastChecked = &t
	}
	return c
}

// Target renders the monitored endpoint for logs and notifications.
func (m Monitor) Target() string {
	switch m.Type {
	case TypeHTTP:
		if m.HTTP != nil {
			return m.HTTP.URL
		}
	case TypePort:
		if m.Port != nil {
			return hostPort(m.Port.Host, m.Port.Port)
		}
	case TypePing:
		if m.Ping != nil {
			return m.Ping.Host
		}
	case TypeHeartbeat:
		if m.Heartbeat != nil {
			return m.Heartbeat.URL
		}
	}
	return ""
}

// CheckResult is the verdict of one probe attempt, or of a whole check
// cycle once the retry policy has settled it.
type CheckResult struct {
	OK         bool      `json:"ok"`
	LatencyMS  float64   `json:"latency_ms"`
	Detail     string    `json:"detail,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HistoryEntry is immutable once appended.
type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Outcome        Status    `json:"outcome"`
	ResponseTimeMS float64   `json:"response_time_ms"`
	Details        string    `json:"details,omitempty"`
}

type StatusUpdate struct {
	MonitorID      MonitorID   `json:"monitor_id"`
	NewStatus      Status      `json:"new_status"`
	PreviousStatus *Status     `json:"previous_status,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Result         CheckResult `json:"result"`
}

// Changed reports whether the update moved the monitor to a different status.
func (u StatusUpdate) Changed() bool {
	return u.PreviousStatus == nil || *u.PreviousStatus != u.NewStatus
}
