// Package events is the in-process notification bus the engine publishes
// lifecycle events on.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies an event.
type Kind string

const (
	MetricRecorded      Kind = "metric.recorded"
	TimerStarted        Kind = "timer.started"
	TimerEnded          Kind = "timer.ended"
	CounterIncremented  Kind = "counter.incremented"
	SessionStarted      Kind = "session.started"
	SessionEnded        Kind = "session.ended"
	AlertRaised         Kind = "alert.raised"
	AlertResolved       Kind = "alert.resolved"
	FlushCompleted      Kind = "flush.completed"
	NotificationForward Kind = "notification.forward"
)

// Event is one published notification. Data holds a value copy of the
// subject (model.Metric, model.Session, model.Alert, model.FlushStats, ...).
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	handler Handler
	kinds   []Kind
}

// Bus fans events out to subscribers. Handler panics are recovered and
// logged so one bad subscriber cannot break publishing.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]subscription
	history    []Event
	historyCap int
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for recovered handler panics.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithHistory keeps the last n events for Recent.
func WithHistory(n int) Option {
	return func(b *Bus) { b.historyCap = n }
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]subscription),
		historyCap: 256,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.historyCap < 0 {
		b.historyCap = 0
	}
	return b
}

// Subscribe registers handler for the given kinds, or for every kind when
// none are given. It returns an id for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = subscription{handler: handler, kinds: kinds}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. It reports whether id was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(kind Kind, data any) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: b.now(),
		Data:      data,
	}

	b.mu.Lock()
	if b.historyCap > 0 {
		if len(b.history) >= b.historyCap {
			b.history = b.history[1:]
		}
		b.history = append(b.history, ev)
	}
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(kind) {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s.handler, ev)
	}
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(ev.Kind)),
				zap.String("event_id", ev.ID),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}

func (s subscription) matches(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}
