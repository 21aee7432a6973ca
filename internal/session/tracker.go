// Package session tracks named time spans and the metrics recorded in them.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Collector returns the metrics that belong to a session spanning
// [start, end]. The engine supplies one backed by the metric store.
type Collector func(id string, start, end time.Time) []model.Metric

// Tracker owns session records. Sessions are never removed except by Clear.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	order    []string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*model.Session)}
}

// Start creates an open session beginning at now.
func (t *Tracker) Start(name string, tags map[string]string, metadata map[string]any, now time.Time) model.Session {
	s := &model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		StartTime: now,
		Tags:      model.CloneTags(tags),
		Metadata:  cloneMetadata(metadata),
	}
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.order = append(t.order, s.ID)
	t.mu.Unlock()
	return clone(s)
}

// End closes the session, stamping EndTime and Duration and filling
// Metrics from collect. It returns false for unknown ids. Ending an already
// ended session returns the stored record unchanged.
func (t *Tracker) End(id string, now time.Time, collect Collector) (model.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	if !s.Open() {
		return clone(s), true
	}
	end := now
	s.EndTime = &end
	s.Duration = end.Sub(s.StartTime)
	s.Metrics = []model.Metric{}
	if collect != nil {
		s.Metrics = collect(id, s.StartTime, end)
	}
	return clone(s), true
}

// Get returns a copy of the session with id.
func (t *Tracker) Get(id string) (model.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return clone(s), true
}

// Open returns every session that has not ended, oldest first.
func (t *Tracker) Open() []model.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Session, 0)
	for _, id := range t.order {
		if s := t.sessions[id]; s.Open() {
			out = append(out, clone(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Len returns the number of tracked sessions, open or ended.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Clear forgets every session.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.sessions = make(map[string]*model.Session)
	t.order = nil
	t.mu.Unlock()
}

func clone(s *model.Session) model.Session {
	out := *s
	out.Tags = model.CloneTags(s.Tags)
	out.Metadata = cloneMetadata(s.Metadata)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	if s.Metrics != nil {
		out.Metrics = make([]model.Metric, len(s.Metrics))
		for i, m := range s.Metrics {
			out.Metrics[i] = m.Clone()
		}
	}
	return out
}

func cloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
