package exporter

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExporterMirrorsEvents(t *testing.T) {
	bus := events.New()
	exp, err := New(bus, WithBufferedLen(func() int { return 42 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	m := model.Metric{Type: model.ResponseTime, Name: "checkout", Value: 1200, Unit: "ms"}
	bus.Publish(events.MetricRecorded, m)
	bus.Publish(events.AlertRaised, model.Alert{Severity: model.SeverityCritical, Metric: m})
	bus.Publish(events.CounterIncremented, engine.CounterEvent{Name: "clicks", Delta: 3, Value: 3})
	bus.Publish(events.SessionEnded, model.Session{ID: "s", Duration: 2 * time.Second})
	bus.Publish(events.FlushCompleted, model.FlushStats{Pruned: 2, Evicted: 1})

	out := scrape(t, exp)
	assert.Contains(t, out, "pulse_metric_value")
	assert.Contains(t, out, `metric_type="response_time"`)
	assert.Contains(t, out, "pulse_alerts")
	assert.Contains(t, out, `severity="critical"`)
	assert.Contains(t, out, "pulse_counter_increments")
	assert.Contains(t, out, `counter="clicks"`)
	assert.Contains(t, out, "pulse_session_duration")
	assert.Contains(t, out, "pulse_flush_pruned")
	assert.Contains(t, out, "pulse_buffered_metrics")
}

func TestCounterDeltasMayBeNegative(t *testing.T) {
	bus := events.New()
	exp, err := New(bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	bus.Publish(events.CounterIncremented, engine.CounterEvent{Name: "stock", Delta: 3, Value: 3})
	bus.Publish(events.CounterIncremented, engine.CounterEvent{Name: "stock", Delta: -5, Value: -2})

	var sample string
	for _, line := range strings.Split(scrape(t, exp), "\n") {
		if strings.HasPrefix(line, "pulse_counter_increments") && strings.Contains(line, `counter="stock"`) {
			sample = line
		}
	}
	require.NotEmpty(t, sample, "no pulse_counter_increments sample for stock")
	assert.True(t, strings.HasSuffix(sample, " -2"), "sample = %q, want net value -2", sample)
}

func TestMetricValueOmitsMetricName(t *testing.T) {
	bus := events.New()
	exp, err := New(bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	bus.Publish(events.MetricRecorded, model.Metric{Type: model.APICall, Name: "/users/8812", Value: 40, Unit: "ms"})

	out := scrape(t, exp)
	assert.Contains(t, out, `metric_type="api_call"`)
	assert.NotContains(t, out, "/users/8812")
}

func TestShutdownUnsubscribes(t *testing.T) {
	bus := events.New()
	exp, err := New(bus)
	require.NoError(t, err)
	require.Equal(t, 1, bus.SubscriberCount())

	require.NoError(t, exp.Shutdown(context.Background()))
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestExporterWithEngine(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.FlushInterval = time.Hour
	eng, err := engine.New(cfg, engine.WithMemorySampleInterval(0))
	require.NoError(t, err)
	t.Cleanup(eng.Stop)

	exp, err := New(eng.Bus(), WithBufferedLen(eng.Store().Len))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	eng.RecordMetric(model.DatabaseQuery, "select", 2500)

	out := scrape(t, exp)
	assert.Contains(t, out, `metric_type="database_query"`)
	assert.Contains(t, out, `severity="critical"`)
}
