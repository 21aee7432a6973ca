package engine

import (
	"time"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

// StartSession opens a named session beginning now.
func (e *Engine) StartSession(name string, tags map[string]string, metadata map[string]any) model.Session {
	s := e.sessions.Start(name, tags, metadata, e.clock.Now())
	e.bus.Publish(events.SessionStarted, s)
	return s
}

// EndSession closes the session and attaches every stored metric whose
// timestamp falls in [start, end], plus metrics tagged session=<id>.
// It returns false when id is unknown.
func (e *Engine) EndSession(id string) (model.Session, bool) {
	s, ok := e.sessions.End(id, e.clock.Now(), e.sessionMetrics)
	if !ok {
		return model.Session{}, false
	}
	e.bus.Publish(events.SessionEnded, s)
	return s, true
}

// Session returns the session with id.
func (e *Engine) Session(id string) (model.Session, bool) {
	return e.sessions.Get(id)
}

// OpenSessions returns sessions that have not ended.
func (e *Engine) OpenSessions() []model.Session {
	return e.sessions.Open()
}

func (e *Engine) sessionMetrics(id string, start, end time.Time) []model.Metric {
	return e.metrics.Select(func(m model.Metric) bool {
		if m.Tags[model.TagSession] == id {
			return true
		}
		return !m.Timestamp.Before(start) && !m.Timestamp.After(end)
	})
}
