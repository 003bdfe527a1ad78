package domain

import "time"

// ApplyResult folds a completed check cycle into the monitor and returns the
// update to record and publish. Every completed cycle yields an update, even
// when the status value stays the same. A paused monitor keeps its status;
// only Resume leaves paused, and it resumes into the outcome recorded here.
func (m *Monitor) ApplyResult(res CheckResult, now time.Time) StatusUpdate {
	var prev *Status
	if m.LastChecked != nil {
		p := m.Status
		prev = &p
	}

	if res.OK {
		m.ConsecutiveSuccesses++
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
		m.ConsecutiveSuccesses = 0
	}

	outcome := StatusDown
	if res.OK {
		outcome = StatusUp
	}
	if m.Status == StatusPaused {
		m.PausedFrom = outcome
	} else {
		m.Status = outcome
	}

	checked := now
	m.LastChecked = &checked
	m.UpdatedAt = now
	if res.CheckedAt.IsZero() {
		res.CheckedAt = now
	}

	return StatusUpdate{
		MonitorID:      m.ID,
		NewStatus:      m.Status,
		PreviousStatus: prev,
		Timestamp:      now,
		Result:         res,
	}
}

// Pause moves the monitor to paused and remembers where it came from.
// It reports false when the monitor was already paused.
func (m *Monitor) Pause(now time.Time) (StatusUpdate, bool) {
	m.Monitoring = false
	if m.Status == StatusPaused {
		return StatusUpdate{}, false
	}
	prev := m.Status
	m.PausedFrom = prev
	m.Status = StatusPaused
	m.UpdatedAt = now
	return StatusUpdate{MonitorID: m.ID, NewStatus: StatusPaused, PreviousStatus: &prev, Timestamp: now}, true
}

// Resume leaves paused. A monitor that was never checked goes back to
// pending; otherwise the status held before the pause is restored until the
// next check completes.
func (m *Monitor) Resume(now time.Time) (StatusUpdate, bool) {
	m.Monitoring = true
	if m.Status != StatusPaused {
		return StatusUpdate{}, false
	}
	next := StatusPending
	if m.LastChecked != nil && (m.PausedFrom == StatusUp || m.PausedFrom == StatusDown) {
		next = m.PausedFrom
	}
	prev := m.Status
	m.Status = next
	m.PausedFrom = ""
	m.UpdatedAt = now
	return StatusUpdate{MonitorID: m.ID, NewStatus: next, PreviousStatus: &prev, Timestamp: now}, true
}

// Entry converts a cycle result into its history record.
func (r CheckResult) Entry() HistoryEntry {
	outcome := StatusDown
	if r.OK {
		outcome = StatusUp
	}
	return HistoryEntry{
		Timestamp:      r.CheckedAt,
		Outcome:        outcome,
		ResponseTimeMS: r.LatencyMS,
		Details:        r.Detail,
	}
}
