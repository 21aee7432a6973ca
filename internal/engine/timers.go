package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

type timer struct {
	name  string
	start time.Time
	tags  map[string]string
}

// TimerEvent is published on timer start and end.
type TimerEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration,omitempty"`
}

// CounterEvent is published on every counter change.
type CounterEvent struct {
	Name  string `json:"name"`
	Delta int64  `json:"delta"`
	Value int64  `json:"value"`
}

// StartTimer begins timing an operation and returns an opaque id for EndTimer.
func (e *Engine) StartTimer(name string, tags map[string]string) string {
	id := uuid.NewString()
	start := e.clock.Now()

	e.timersMu.Lock()
	e.timers[id] = timer{name: name, start: start, tags: model.CloneTags(tags)}
	e.timersMu.Unlock()

	e.bus.Publish(events.TimerStarted, TimerEvent{ID: id, Name: name, Start: start})
	return id
}

// EndTimer stops the timer and records the elapsed milliseconds, by default
// as a response_time metric. Unknown or already ended ids return NotFound.
func (e *Engine) EndTimer(id string, opts ...MetricOption) model.Result {
	e.timersMu.Lock()
	t, ok := e.timers[id]
	delete(e.timers, id)
	e.timersMu.Unlock()
	if !ok {
		return model.NotFound()
	}

	elapsed := e.clock.Now().Sub(t.start)
	in := model.MetricInput{
		Type:  model.ResponseTime,
		Name:  t.name,
		Value: float64(elapsed) / float64(time.Millisecond),
		Unit:  model.DefaultUnit,
		Tags:  model.CloneTags(t.tags),
	}
	for _, opt := range opts {
		opt(&in)
	}

	res := e.Record(in)
	e.bus.Publish(events.TimerEnded, TimerEvent{ID: id, Name: t.name, Start: t.start, Duration: elapsed})
	return res
}

// ActiveTimers returns the number of started but not ended timers.
func (e *Engine) ActiveTimers() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.timers)
}

// IncrementCounter adds delta to the named counter and returns the new total.
// Counters are independent of metrics and never flushed.
func (e *Engine) IncrementCounter(name string, delta int64) int64 {
	e.countersMu.Lock()
	e.counters[name] += delta
	v := e.counters[name]
	e.countersMu.Unlock()

	e.bus.Publish(events.CounterIncremented, CounterEvent{Name: name, Delta: delta, Value: v})
	return v
}

// Counter returns the current total for name.
func (e *Engine) Counter(name string) int64 {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	return e.counters[name]
}

// Counters returns a copy of every counter.
func (e *Engine) Counters() map[string]int64 {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	out := make(map[string]int64, len(e.counters))
	for k, v := range e.counters {
		out[k] = v
	}
	return out
}
