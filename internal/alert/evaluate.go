// Package alert evaluates metrics against thresholds and delivers the
// resulting alerts to configured channels.
package alert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Evaluate compares m.Value against th. Critical wins when both levels are
// breached. ok is false when the value is below the warning level.
func Evaluate(m model.Metric, th model.Threshold) (sev model.Severity, limit float64, ok bool) {
	switch {
	case m.Value >= th.Critical:
		return model.SeverityCritical, th.Critical, true
	case m.Value >= th.Warning:
		return model.SeverityWarning, th.Warning, true
	default:
		return "", 0, false
	}
}

// Message renders the human readable alert text, e.g.
// "checkout exceeded critical threshold: 3500ms (threshold: 3000ms)".
func Message(m model.Metric, sev model.Severity, limit float64) string {
	return fmt.Sprintf("%s exceeded %s threshold: %s%s (threshold: %s%s)",
		m.Name, sev, formatValue(m.Value), m.Unit, formatValue(limit), m.Unit)
}

// Build returns the alert for m, or false when no threshold is breached.
func Build(id string, m model.Metric, th model.Threshold, now time.Time) (model.Alert, bool) {
	sev, limit, ok := Evaluate(m, th)
	if !ok {
		return model.Alert{}, false
	}
	return model.Alert{
		ID:        id,
		Severity:  sev,
		Message:   Message(m, sev, limit),
		Metric:    m.Clone(),
		Threshold: limit,
		Timestamp: now,
	}, true
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
