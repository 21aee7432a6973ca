// Package store holds recorded metrics in memory, ordered by insertion.
package store

import (
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Store is an insertion-ordered metric buffer. It is safe for concurrent use.
// Every read returns copies.
type Store struct {
	mu      sync.RWMutex
	metrics []model.Metric
}

// New returns an empty store. capacity is a sizing hint only.
func New(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{metrics: make([]model.Metric, 0, capacity)}
}

// Add appends a metric.
func (s *Store) Add(m model.Metric) {
	m = m.Clone()
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
}

// Len returns the number of stored metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// Range returns metrics with start <= Timestamp <= end, in insertion order.
func (s *Store) Range(start, end time.Time) []model.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Metric, 0)
	for _, m := range s.metrics {
		if m.Timestamp.Before(start) || m.Timestamp.After(end) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// Select returns metrics for which keep reports true, in insertion order.
// keep runs under the read lock and must not call back into the store.
func (s *Store) Select(keep func(model.Metric) bool) []model.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Metric, 0)
	for _, m := range s.metrics {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Tagged returns metrics whose tag key equals value.
func (s *Store) Tagged(key, value string) []model.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Metric, 0)
	for _, m := range s.metrics {
		if v, ok := m.Tags[key]; ok && v == value {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Recent returns up to n of the most recently inserted metrics, oldest first.
func (s *Store) Recent(n int) []model.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []model.Metric{}
	}
	from := len(s.metrics) - n
	if from < 0 {
		from = 0
	}
	return cloneAll(s.metrics[from:])
}

// All returns every stored metric.
func (s *Store) All() []model.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.metrics)
}

// PruneBefore removes metrics older than cutoff and returns them.
func (s *Store) PruneBefore(cutoff time.Time) []model.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.metrics[:0:0]
	removed := make([]model.Metric, 0)
	for _, m := range s.metrics {
		if m.Timestamp.Before(cutoff) {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	s.metrics = kept
	return removed
}

// EvictOldest trims the store to at most limit metrics, dropping the
// earliest inserted first, and returns what was dropped.
func (s *Store) EvictOldest(limit int) []model.Metric {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	over := len(s.metrics) - limit
	if over <= 0 {
		return []model.Metric{}
	}
	removed := make([]model.Metric, over)
	copy(removed, s.metrics[:over])
	rest := make([]model.Metric, len(s.metrics)-over, cap(s.metrics))
	copy(rest, s.metrics[over:])
	s.metrics = rest
	return removed
}

// Clear drops every metric.
func (s *Store) Clear() {
	s.mu.Lock()
	s.metrics = s.metrics[:0:0]
	s.mu.Unlock()
}

func cloneAll(in []model.Metric) []model.Metric {
	out := make([]model.Metric, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
