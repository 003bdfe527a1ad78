package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const maxHeartbeatBody = 1 << 20

// HeartbeatChecker polls an application endpoint that reports its own
// status and the time it last ticked. Both must be healthy.
type HeartbeatChecker struct {
	Client *http.Client
	Now    func() time.Time
}

func NewHeartbeatChecker() *HeartbeatChecker {
	return &HeartbeatChecker{Client: &http.Client{}, Now: time.Now}
}

func (h *HeartbeatChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	p := m.Heartbeat
	if p == nil {
		return fail("malformed target: missing heartbeat parameters", 0)
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return fail("malformed target: "+err.Error(), 0)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail(classify(err), since(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHeartbeatBody))
	latency := since(start)
	if err != nil {
		return fail(classify(err), latency)
	}
	res := domain.CheckResult{StatusCode: resp.StatusCode, LatencyMS: latency}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Detail = "unexpected status: " + resp.Status
		return res
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		res.Detail = "malformed response: " + err.Error()
		return res
	}

	statusVal, ok := lookup(doc, p.StatusField)
	if !ok {
		res.Detail = fmt.Sprintf("malformed response: missing field %q", p.StatusField)
		return res
	}
	got := scalar(statusVal)
	if got != strings.TrimSpace(p.ExpectedStatus) {
		res.Detail = fmt.Sprintf("status mismatch: %s=%q want %q", p.StatusField, got, p.ExpectedStatus)
		return res
	}

	tsVal, ok := lookup(doc, p.TimestampField)
	if !ok {
		res.Detail = fmt.Sprintf("malformed response: missing field %q", p.TimestampField)
		return res
	}
	reported, err := parseTimestamp(tsVal)
	if err != nil {
		res.Detail = fmt.Sprintf("malformed response: %s: %v", p.TimestampField, err)
		return res
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	drift := now().Sub(reported)
	if drift < 0 {
		drift = -drift
	}
	maxDrift := time.Duration(p.MaxDriftSeconds) * time.Second
	if drift > maxDrift {
		res.Detail = fmt.Sprintf("drift exceeded: %ds > %ds", int64(drift.Seconds()), p.MaxDriftSeconds)
		return res
	}

	res.OK = true
	res.Detail = fmt.Sprintf("status %s, drift %ds", got, int64(drift.Seconds()))
	return res
}

// lookup walks a dotted path such as "data.health.status".
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}

// parseTimestamp accepts RFC3339 strings and unix epochs in seconds or
// milliseconds, numeric or quoted.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return fromEpoch(f), nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromEpoch(f float64) time.Time {
	if f > 1e12 {
		ms := int64(f)
		return time.UnixMilli(ms)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}
