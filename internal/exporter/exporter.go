// Package exporter mirrors engine events into OpenTelemetry instruments and
// serves them in Prometheus exposition format.
package exporter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

const meterName = "github.com/tinytelemetry/pulse"

// Exporter is subscribed to an events.Bus until Shutdown.
type Exporter struct {
	bus      *events.Bus
	subID    string
	logger   *zap.Logger
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	metricValue     metric.Float64Histogram
	alerts          metric.Int64Counter
	counterDeltas   metric.Int64UpDownCounter
	sessionDuration metric.Float64Histogram
	flushPruned     metric.Int64Counter
}

// Option configures an Exporter.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	bufferedLen func() int
	version     string
}

// WithLogger sets the logger for handler errors.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBufferedLen exposes fn as the pulse_buffered_metrics gauge.
func WithBufferedLen(fn func() int) Option {
	return func(o *options) { o.bufferedLen = fn }
}

// WithVersion sets the service.version resource attribute.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New creates an exporter backed by a dedicated Prometheus registry and
// subscribes it to bus.
func New(bus *events.Bus, opts ...Option) (*Exporter, error) {
	o := options{logger: zap.NewNop(), version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("exporter: create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName("pulse"),
		semconv.ServiceVersion(o.version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	meter := provider.Meter(meterName)

	e := &Exporter{
		bus:      bus,
		logger:   o.logger,
		provider: provider,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	if e.metricValue, err = meter.Float64Histogram("pulse_metric_value",
		metric.WithDescription("Values of recorded performance metrics")); err != nil {
		return nil, fmt.Errorf("exporter: pulse_metric_value: %w", err)
	}
	if e.alerts, err = meter.Int64Counter("pulse_alerts",
		metric.WithDescription("Threshold alerts raised")); err != nil {
		return nil, fmt.Errorf("exporter: pulse_alerts: %w", err)
	}
	// Deltas may be negative, so this is an up-down counter.
	if e.counterDeltas, err = meter.Int64UpDownCounter("pulse_counter_increments",
		metric.WithDescription("Net sum of named counter increments")); err != nil {
		return nil, fmt.Errorf("exporter: pulse_counter_increments: %w", err)
	}
	if e.sessionDuration, err = meter.Float64Histogram("pulse_session_duration",
		metric.WithDescription("Duration of ended sessions"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("exporter: pulse_session_duration: %w", err)
	}
	if e.flushPruned, err = meter.Int64Counter("pulse_flush_pruned",
		metric.WithDescription("Metrics removed from memory by flushes")); err != nil {
		return nil, fmt.Errorf("exporter: pulse_flush_pruned: %w", err)
	}
	if o.bufferedLen != nil {
		fn := o.bufferedLen
		if _, err = meter.Int64ObservableGauge("pulse_buffered_metrics",
			metric.WithDescription("Metrics currently held in memory"),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(fn()))
				return nil
			})); err != nil {
			return nil, fmt.Errorf("exporter: pulse_buffered_metrics: %w", err)
		}
	}

	e.subID = bus.Subscribe(e.handle,
		events.MetricRecorded,
		events.AlertRaised,
		events.CounterIncremented,
		events.SessionEnded,
		events.FlushCompleted,
	)
	return e, nil
}

// Handler serves the Prometheus scrape endpoint.
func (e *Exporter) Handler() http.Handler { return e.handler }

// Shutdown unsubscribes from the bus and stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.bus.Unsubscribe(e.subID)
	return e.provider.Shutdown(ctx)
}

func (e *Exporter) handle(ev events.Event) {
	ctx := context.Background()
	switch data := ev.Data.(type) {
	case model.Metric:
		// Metric names are caller-chosen and unbounded; type and unit are not.
		e.metricValue.Record(ctx, data.Value, metric.WithAttributes(
			attribute.String("metric_type", string(data.Type)),
			attribute.String("unit", data.Unit),
		))
	case model.Alert:
		e.alerts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", string(data.Severity)),
			attribute.String("metric_type", string(data.Metric.Type)),
		))
	case engine.CounterEvent:
		e.counterDeltas.Add(ctx, data.Delta, metric.WithAttributes(attribute.String("counter", data.Name)))
	case model.Session:
		e.sessionDuration.Record(ctx, float64(data.Duration)/float64(time.Millisecond))
	case model.FlushStats:
		e.flushPruned.Add(ctx, int64(data.Pruned+data.Evicted))
	default:
		e.logger.Debug("exporter: unhandled event payload", zap.String("kind", string(ev.Kind)))
	}
}
