package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Limits bounds the numeric monitor settings accepted by Validate.
type Limits struct {
	MinIntervalMS    int
	DefaultTimeoutMS int
	MaxRetryAttempts int
}

func DefaultLimits() Limits {
	return Limits{
		MinIntervalMS:    5000,
		DefaultTimeoutMS: 10000,
		MaxRetryAttempts: 10,
	}
}

// ApplyDefaults fills the optional fields of a freshly submitted monitor.
func (m *Monitor) ApplyDefaults(l Limits) {
	m.Type = MonitorType(strings.ToLower(strings.TrimSpace(string(m.Type))))
	if m.CheckIntervalMS == 0 {
		m.CheckIntervalMS = 60000
		if m.CheckIntervalMS < l.MinIntervalMS {
			m.CheckIntervalMS = l.MinIntervalMS
		}
	}
	if m.TimeoutMS == 0 {
		m.TimeoutMS = l.DefaultTimeoutMS
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.HTTP != nil {
		m.HTTP.URL = strings.TrimSpace(m.HTTP.URL)
		m.HTTP.Method = strings.ToUpper(strings.TrimSpace(m.HTTP.Method))
		if m.HTTP.Method == "" {
			m.HTTP.Method = "GET"
		}
	}
	if m.Port != nil {
		m.Port.Host = strings.TrimSpace(m.Port.Host)
	}
	if m.Ping != nil {
		m.Ping.Host = strings.TrimSpace(m.Ping.Host)
	}
	if m.Heartbeat != nil {
		m.Heartbeat.URL = strings.TrimSpace(m.Heartbeat.URL)
		m.Heartbeat.Method = strings.ToUpper(strings.TrimSpace(m.Heartbeat.Method))
		if m.Heartbeat.Method == "" {
			m.Heartbeat.Method = "GET"
		}
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = m.Target()
	}
}

// Validate rejects configuration errors before a monitor reaches the
// scheduler. The parameter set must match the declared type exactly.
func (m *Monitor) Validate(l Limits) error {
	set := map[MonitorType]bool{
		TypeHTTP:      m.HTTP != nil,
		TypePort:      m.Port != nil,
		TypePing:      m.Ping != nil,
		TypeHeartbeat: m.Heartbeat != nil,
	}
	if _, known := set[m.Type]; !known {
		return invalid("unknown type %q", m.Type)
	}
	for _, t := range MonitorTypes {
		if t == m.Type && !set[t] {
			return invalid("type %s requires %s parameters", m.Type, t)
		}
		if t != m.Type && set[t] {
			return invalid("type %s must not carry %s parameters", m.Type, t)
		}
	}

	var err error
	switch m.Type {
	case TypeHTTP:
		err = validateHTTP(m.HTTP)
	case TypePort:
		err = validatePort(m.Port)
	case TypePing:
		err = validateHost("ping.host", m.Ping.Host)
	case TypeHeartbeat:
		err = validateHeartbeat(m.Heartbeat)
	}
	if err != nil {
		return err
	}

	if m.CheckIntervalMS < l.MinIntervalMS {
		return invalid("check_interval_ms must be >= %d", l.MinIntervalMS)
	}
	if m.TimeoutMS <= 0 {
		return invalid("timeout_ms must be > 0")
	}
	if m.RetryAttempts < 0 {
		return invalid("retry_attempts must be >= 0")
	}
	if l.MaxRetryAttempts > 0 && m.RetryAttempts > l.MaxRetryAttempts {
		return invalid("retry_attempts must be <= %d", l.MaxRetryAttempts)
	}
	return nil
}

func validateHTTP(p *HTTPParams) error {
	if err := validateURL("http.url", p.URL); err != nil {
		return err
	}
	switch p.Method {
	case "", "GET", "HEAD", "POST":
	default:
		return invalid("http.method %q not supported (use GET, HEAD or POST)", p.Method)
	}
	for _, code := range p.ExpectedStatus {
		if code < 100 || code > 599 {
			return invalid("http.expected_status %d must be 100..599", code)
		}
	}
	return nil
}

func validatePort(p *PortParams) error {
	if err := validateHost("port.host", p.Host); err != nil {
		return err
	}
	if p.Port < 1 || p.Port > 65535 {
		return invalid("port.port %d must be 1..65535", p.Port)
	}
	return nil
}

func validateHeartbeat(p *HeartbeatParams) error {
	if err := validateURL("heartbeat.url", p.URL); err != nil {
		return err
	}
	switch p.Method {
	case "", "GET", "POST":
	default:
		return invalid("heartbeat.method %q not supported (use GET or POST)", p.Method)
	}
	if strings.TrimSpace(p.StatusField) == "" {
		return invalid("heartbeat.status_field is required")
	}
	if strings.TrimSpace(p.ExpectedStatus) == "" {
		return invalid("heartbeat.expected_status is required")
	}
	if strings.TrimSpace(p.TimestampField) == "" {
		return invalid("heartbeat.timestamp_field is required")
	}
	if p.MaxDriftSeconds <= 0 {
		return invalid("heartbeat.max_drift_seconds must be > 0")
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return invalid("%s %q is not a valid url", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("%s must use http or https", field)
	}
	if u.Hostname() == "" {
		return invalid("%s is missing a host", field)
	}
	return nil
}

func validateHost(field, host string) error {
	if host == "" {
		return invalid("%s is required", field)
	}
	if strings.Contains(host, "://") || strings.ContainsAny(host, " /\t") {
		return invalid("%s %q must be a bare hostname or ip", field, host)
	}
	// only an ipv6 literal may contain a colon; host:port is rejected
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return invalid("%s %q must not include a port", field, host)
	}
	return nil
}

// Validate checks a site before it is stored.
func (s *Site) Validate() error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		s.Name = DefaultSiteName
	}
	if len(s.Name) > 200 {
		return fmt.Errorf("%w: name longer than 200 characters", ErrInvalidSite)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidMonitor}, args...)...)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
