// Package events fans out status updates and lifecycle signals to
// subscribers such as the HTTP event stream and the alerter.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
)

type Kind string

const (
	KindStatusUpdate      Kind = "status_update"
	KindMonitoringStarted Kind = "monitoring_started"
	KindMonitoringStopped Kind = "monitoring_stopped"
)

type Event struct {
	Kind      Kind                 `json:"kind"`
	MonitorID domain.MonitorID     `json:"monitor_id"`
	Update    *domain.StatusUpdate `json:"update,omitempty"`
	At        time.Time            `json:"at"`
}

func StatusEvent(u domain.StatusUpdate) Event {
	return Event{Kind: KindStatusUpdate, MonitorID: u.MonitorID, Update: &u, At: u.Timestamp}
}

func LifecycleEvent(kind Kind, id domain.MonitorID) Event {
	return Event{Kind: kind, MonitorID: id, At: time.Now().UTC()}
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(e Event)
}

// Bus delivers each event to every subscriber in publish order. A
// subscriber whose buffer is full misses the event rather than stalling the
// publisher; history remains the durable record.
type Bus struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool

	dropped atomic.Int64
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[int]chan Event)}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Warn("event_dropped",
				zap.String("kind", string(e.Kind)),
				zap.String("monitor_id", string(e.MonitorID)),
			)
		}
	}
}

func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
