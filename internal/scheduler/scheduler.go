package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/history"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// TickPolicy decides what happens to a tick that comes due while the
// monitor's previous cycle is still running. Cycles never overlap either way.
type TickPolicy string

const (
	// TickReschedule arms the next tick one interval after the cycle
	// completes; late ticks are dropped.
	TickReschedule TickPolicy = "reschedule"
	// TickMerge keeps the fixed cadence: if ticks came due during a long
	// cycle they collapse into a single catch-up cycle right after it.
	TickMerge TickPolicy = "merge"
)

// ErrClosed is returned for commands that would start work after Close.
var ErrClosed = errors.New("scheduler closed")

func ParseTickPolicy(s string) (TickPolicy, error) {
	switch TickPolicy(s) {
	case "", TickReschedule:
		return TickReschedule, nil
	case TickMerge:
		return TickMerge, nil
	}
	return "", fmt.Errorf("unknown tick policy %q", s)
}

type Config struct {
	Logger  *zap.Logger
	Checker probe.Checker
	History *history.Recorder
	Events  events.Publisher
	// Monitors receives every monitor state change; nil disables saving.
	Monitors repo.MonitorStore
	Policy   TickPolicy
	Retry    repo.Retry
	Now      func() time.Time
	// Strict panics on invariant violations instead of logging them.
	Strict bool
}

// Scheduler owns one worker goroutine and timer per running monitor. Each
// monitor has an execution slot that admits one check cycle at a time, so
// timer ticks, CheckNow calls and a lingering cycle from before a stop can
// never overlap. Different monitors run fully in parallel.
type Scheduler struct {
	log      *zap.Logger
	checker  probe.Checker
	history  *history.Recorder
	events   events.Publisher
	monitors repo.MonitorStore
	policy   TickPolicy
	retry    repo.Retry
	now      func() time.Time
	strict   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	entries map[domain.MonitorID]*entry
	closed  bool
}

type entry struct {
	// exec is the per-monitor execution slot (capacity 1).
	exec chan struct{}
	// saveMu orders snapshot+save pairs so the newest state is written last.
	saveMu   sync.Mutex
	inflight atomic.Int32

	mu      sync.Mutex
	mon     domain.Monitor
	w       *worker
	removed bool
}

type worker struct {
	stop chan struct{}
	done chan struct{}
	// reset re-arms the timer after the interval changed.
	reset chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.History == nil {
		cfg.History = history.NewRecorder(nil, cfg.Logger, history.DefaultCap)
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBus(cfg.Logger)
	}
	if cfg.Policy == "" {
		cfg.Policy = TickReschedule
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = repo.DefaultRetry()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:      cfg.Logger,
		checker:  cfg.Checker,
		history:  cfg.History,
		events:   cfg.Events,
		monitors: cfg.Monitors,
		policy:   cfg.Policy,
		retry:    cfg.Retry,
		now:      cfg.Now,
		strict:   cfg.Strict,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[domain.MonitorID]*entry),
	}
}

// ---- registry ----

// Register adds a monitor without starting it. Callers start it explicitly
// (or through StartAll) when m.Monitoring is set.
func (s *Scheduler) Register(m domain.Monitor) error {
	if m.ID == "" {
		return fmt.Errorf("register: %w: empty id", domain.ErrInvalidMonitor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[m.ID]; ok {
		return fmt.Errorf("register %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.entries[m.ID] = &entry{exec: make(chan struct{}, 1), mon: m.Clone()}
	return nil
}

// Update swaps the configuration of a registered monitor while keeping its
// runtime state (status, counters, last check). A running monitor re-arms
// its timer right away when the interval changed.
func (s *Scheduler) Update(m domain.Monitor) (domain.Monitor, error) {
	e, err := s.entry(m.ID)
	if err != nil {
		return domain.Monitor{}, err
	}
	e.mu.Lock()
	cur := e.mon
	next := m.Clone()
	next.SiteID = cur.SiteID
	next.Monitoring = cur.Monitoring
	next.Status = cur.Status
	next.PausedFrom = cur.PausedFrom
	next.LastChecked = cur.LastChecked
	next.ConsecutiveFailures = cur.ConsecutiveFailures
	next.ConsecutiveSuccesses = cur.ConsecutiveSuccesses
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	e.mon = next
	if e.w != nil && next.Interval() != cur.Interval() {
		select {
		case e.w.reset <- struct{}{}:
		default:
		}
	}
	out := next.Clone()
	e.mu.Unlock()

	s.persist(e)
	return out, nil
}

// Remove stops the monitor and discards its in-memory state. A cycle that
// is still in flight finishes, but its result is dropped.
func (s *Scheduler) Remove(id domain.MonitorID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove %s: %w", id, domain.ErrNotFound)
	}

	e.mu.Lock()
	e.removed = true
	wasRunning := e.stopWorkerLocked()
	e.mu.Unlock()
	// wait out a save already past its removed check
	e.saveMu.Lock()
	e.saveMu.Unlock()

	s.history.Forget(id)
	if wasRunning {
		s.events.Publish(events.LifecycleEvent(events.KindMonitoringStopped, id))
	}
	s.log.Info("monitor_removed", zap.String("monitor_id", string(id)))
	return nil
}

func (s *Scheduler) Get(id domain.MonitorID) (domain.Monitor, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Monitor{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mon.Clone(), nil
}

func (s *Scheduler) List() []domain.Monitor {
	s.mu.RLock()
	es := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		es = append(es, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Monitor, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.mon.Clone())
		e.mu.Unlock()
	}
	return out
}

// Running reports whether the monitor currently owns a timer.
func (s *Scheduler) Running(id domain.MonitorID) bool {
	e, err := s.entry(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w != nil
}

// ActiveTimers counts monitors that currently own a timer.
func (s *Scheduler) ActiveTimers() int {
	n := 0
	for _, e := range s.snapshot() {
		e.mu.Lock()
		if e.w != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// ---- lifecycle ----

// Start arms the monitor's timer. The first cycle runs one interval after
// Start; Start itself never runs a check. Starting a running monitor is a
// no-op.
func (s *Scheduler) Start(id domain.MonitorID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, domain.ErrNotFound)
	}
	if e.w != nil {
		e.mu.Unlock()
		return nil
	}
	if e.mon.Interval() <= 0 {
		e.mu.Unlock()
		return fmt.Errorf("start %s: %w: non-positive interval", id, domain.ErrInvalidMonitor)
	}
	if !s.track() {
		e.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, ErrClosed)
	}
	u, changed := e.mon.Resume(s.now())
	w := &worker{stop: make(chan struct{}), done: make(chan struct{}), reset: make(chan struct{}, 1)}
	e.w = w
	go s.run(e, w)
	if changed {
		s.events.Publish(events.StatusEvent(u))
	}
	s.events.Publish(events.LifecycleEvent(events.KindMonitoringStarted, id))
	interval := e.mon.Interval()
	e.mu.Unlock()

	s.log.Info("monitor_started",
		zap.String("monitor_id", string(id)),
		zap.Duration("interval", interval),
	)
	s.persist(e)
	return nil
}

// Stop cancels the timer and pauses the monitor. A cycle already in flight
// runs to completion and is recorded, but it never re-arms the timer.
func (s *Scheduler) Stop(id domain.MonitorID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	wasRunning := e.stopWorkerLocked()
	u, changed := e.mon.Pause(s.now())
	if changed {
		s.events.Publish(events.StatusEvent(u))
	}
	if wasRunning {
		s.events.Publish(events.LifecycleEvent(events.KindMonitoringStopped, id))
	}
	e.mu.Unlock()

	if wasRunning {
		s.log.Info("monitor_stopped", zap.String("monitor_id", string(id)))
	}
	s.persist(e)
	return nil
}

// StartAll starts every registered monitor. One failure does not stop the
// others; all failures are returned together.
func (s *Scheduler) StartAll() error {
	var errs error
	for id := range s.ids() {
		if err := s.Start(id); err != nil {
			s.log.Warn("monitor_start_failed", zap.String("monitor_id", string(id)), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *Scheduler) StopAll() error {
	var errs error
	for id := range s.ids() {
		if err := s.Stop(id); err != nil {
			s.log.Warn("monitor_stop_failed", zap.String("monitor_id", string(id)), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close stops every monitor and waits for in-flight cycles. When ctx ends
// first, remaining probes are cancelled and their results dropped. No new
// cycle starts once Close has been called.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	errs := s.StopAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return errs
	case <-ctx.Done():
		s.cancel()
		<-done
		return multierr.Append(errs, ctx.Err())
	}
}

// ---- cycles ----

// TriggerNow runs one cycle immediately, outside the timer schedule and
// without touching the timer. It waits for any cycle already in flight for
// the same monitor. ctx bounds only the caller's wait; the probe itself is
// not tied to the caller.
func (s *Scheduler) TriggerNow(ctx context.Context, id domain.MonitorID) (domain.StatusUpdate, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.StatusUpdate{}, err
	}
	select {
	case e.exec <- struct{}{}:
	case <-ctx.Done():
		return domain.StatusUpdate{}, ctx.Err()
	case <-s.ctx.Done():
		return domain.StatusUpdate{}, s.ctx.Err()
	}
	if !s.track() {
		<-e.exec
		return domain.StatusUpdate{}, fmt.Errorf("check %s: %w", id, ErrClosed)
	}

	type outcome struct {
		u   domain.StatusUpdate
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer s.wg.Done()
		defer func() { <-e.exec }()
		u, err := s.cycle(e)
		ch <- outcome{u, err}
	}()

	select {
	case o := <-ch:
		return o.u, o.err
	case <-ctx.Done():
		return domain.StatusUpdate{}, ctx.Err()
	}
}

func (s *Scheduler) run(e *entry, w *worker) {
	defer s.wg.Done()
	defer close(w.done)

	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-s.ctx.Done():
			return
		case <-w.reset:
			timer.Stop()
			timer.Reset(e.interval())
		case fired := <-timer.C:
			if !s.tick(e, w) {
				return
			}
			select {
			case <-w.stop:
				return
			default:
			}
			timer.Reset(s.nextDelay(e, fired))
		}
	}
}

// tick runs one timer-driven cycle. It reports false once the worker has
// been stopped.
func (s *Scheduler) tick(e *entry, w *worker) bool {
	switch s.policy {
	case TickMerge:
		select {
		case e.exec <- struct{}{}:
		case <-w.stop:
			return false
		}
	default:
		select {
		case e.exec <- struct{}{}:
		default:
			s.log.Debug("tick_skipped_in_flight", zap.String("monitor_id", string(e.id())))
			return true
		}
	}
	defer func() { <-e.exec }()

	select {
	case <-w.stop:
		return false
	default:
	}
	if _, err := s.cycle(e); err != nil {
		return false
	}
	return true
}

func (s *Scheduler) nextDelay(e *entry, fired time.Time) time.Duration {
	interval := e.interval()
	if s.policy != TickMerge {
		return interval
	}
	d := time.Until(fired.Add(interval))
	if d < 0 {
		d = 0
	}
	return d
}

// cycle runs one check cycle; the caller holds e.exec. No lock is held
// while the probe runs.
func (s *Scheduler) cycle(e *entry) (domain.StatusUpdate, error) {
	if n := e.inflight.Add(1); n != 1 {
		s.violation("overlapping check cycles", e.id())
	}
	defer e.inflight.Add(-1)

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return domain.StatusUpdate{}, fmt.Errorf("check %s: %w", e.mon.ID, domain.ErrNotFound)
	}
	snap := e.mon.Clone()
	e.mu.Unlock()

	start := time.Now()
	res := s.checker.Check(s.ctx, snap)
	if err := s.ctx.Err(); err != nil {
		// probe cut short by shutdown
		s.log.Debug("check_result_discarded", zap.String("monitor_id", string(snap.ID)), zap.Error(err))
		return domain.StatusUpdate{}, fmt.Errorf("check %s: %w", snap.ID, err)
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		s.log.Debug("check_result_discarded", zap.String("monitor_id", string(snap.ID)))
		return domain.StatusUpdate{}, fmt.Errorf("check %s: %w", snap.ID, domain.ErrNotFound)
	}
	u := e.mon.ApplyResult(res, s.now())
	entry := u.Result.Entry()
	s.history.Record(snap.ID, entry)
	s.events.Publish(events.StatusEvent(u))
	e.mu.Unlock()

	// Persist logs its own failures; the schedule carries on regardless.
	_ = s.history.Persist(s.ctx, snap.ID, entry)
	s.persist(e)

	s.log.Debug("check_cycle_done",
		zap.String("monitor_id", string(snap.ID)),
		zap.String("type", string(snap.Type)),
		zap.String("target", snap.Target()),
		zap.Bool("ok", res.OK),
		zap.Int("attempts", res.Attempts),
		zap.Float64("latency_ms", res.LatencyMS),
		zap.String("detail", res.Detail),
		zap.String("status", string(u.NewStatus)),
		zap.Duration("took", time.Since(start)),
	)
	return u, nil
}

// persist saves the latest snapshot of the monitor. Failures are retried
// and then logged; they never reach the schedule.
func (s *Scheduler) persist(e *entry) {
	if s.monitors == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	snap := e.mon.Clone()
	e.mu.Unlock()

	err := s.retry.Do(s.ctx, func(ctx context.Context) error {
		return s.monitors.SaveMonitor(ctx, snap)
	})
	if err != nil {
		s.log.Warn("monitor_save_failed", zap.String("monitor_id", string(snap.ID)), zap.Error(err))
	}
}

func (s *Scheduler) violation(what string, id domain.MonitorID) {
	if s.strict {
		panic(fmt.Sprintf("scheduler invariant violated: %s (monitor %s)", what, id))
	}
	s.log.Error("scheduler_invariant_violated", zap.String("what", what), zap.String("monitor_id", string(id)))
}

// ---- helpers ----

// track registers one more goroutine with the shutdown wait group unless
// Close has begun.
func (s *Scheduler) track() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) entry(id domain.MonitorID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("monitor %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (s *Scheduler) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Scheduler) ids() map[domain.MonitorID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.MonitorID]struct{}, len(s.entries))
	for id := range s.entries {
		out[id] = struct{}{}
	}
	return out
}

func (e *entry) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mon.Interval()
}

func (e *entry) id() domain.MonitorID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mon.ID
}

// stopWorkerLocked signals the worker to exit; e.mu must be held.
func (e *entry) stopWorkerLocked() bool {
	if e.w == nil {
		return false
	}
	close(e.w.stop)
	e.w = nil
	return true
}
