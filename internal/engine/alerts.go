package engine

import (
	"time"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

// Alerts returns raised alerts in creation order.
func (e *Engine) Alerts(unresolvedOnly bool) []model.Alert {
	e.alertsMu.RLock()
	defer e.alertsMu.RUnlock()
	out := make([]model.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, copyAlert(a))
	}
	return out
}

// ResolveAlert marks the alert resolved. It returns false for unknown ids;
// resolving twice keeps the first ResolvedAt.
func (e *Engine) ResolveAlert(id string) (model.Alert, bool) {
	now := e.clock.Now()
	e.alertsMu.Lock()
	var (
		found    bool
		resolved model.Alert
		changed  bool
	)
	for i := range e.alerts {
		if e.alerts[i].ID != id {
			continue
		}
		found = true
		if !e.alerts[i].Resolved {
			e.alerts[i].Resolved = true
			at := now
			e.alerts[i].ResolvedAt = &at
			changed = true
		}
		resolved = copyAlert(e.alerts[i])
		break
	}
	e.alertsMu.Unlock()

	if changed {
		e.bus.Publish(events.AlertResolved, resolved)
	}
	return resolved, found
}

// pruneResolvedAlerts drops resolved alerts raised before cutoff.
func (e *Engine) pruneResolvedAlerts(cutoff time.Time) int {
	e.alertsMu.Lock()
	defer e.alertsMu.Unlock()
	kept := e.alerts[:0:0]
	for _, a := range e.alerts {
		if a.Resolved && a.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
	}
	removed := len(e.alerts) - len(kept)
	e.alerts = kept
	return removed
}

func copyAlert(a model.Alert) model.Alert {
	out := a
	out.Metric = a.Metric.Clone()
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
