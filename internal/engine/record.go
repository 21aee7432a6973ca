package engine

import (
	"github.com/google/uuid"

	"github.com/tinytelemetry/pulse/internal/alert"
	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

// MetricOption adjusts a metric before it is recorded.
type MetricOption func(*model.MetricInput)

// WithUnit sets the unit. The default is "ms".
func WithUnit(unit string) MetricOption {
	return func(in *model.MetricInput) { in.Unit = unit }
}

// WithTags merges tags into the metric's tags.
func WithTags(tags map[string]string) MetricOption {
	return func(in *model.MetricInput) {
		if len(tags) == 0 {
			return
		}
		if in.Tags == nil {
			in.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			in.Tags[k] = v
		}
	}
}

// WithMetadata merges metadata into the metric's metadata.
func WithMetadata(md map[string]any) MetricOption {
	return func(in *model.MetricInput) {
		if len(md) == 0 {
			return
		}
		if in.Metadata == nil {
			in.Metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			in.Metadata[k] = v
		}
	}
}

// WithType sets the metric type EndTimer records under.
func WithType(typ model.MetricType) MetricOption {
	return func(in *model.MetricInput) { in.Type = typ }
}

// RecordMetric stores one observation. It returns a skipped result when the
// engine is disabled or typ is not enabled; nothing is stored in that case.
func (e *Engine) RecordMetric(typ model.MetricType, name string, value float64, opts ...MetricOption) model.Result {
	in := model.MetricInput{Type: typ, Name: name, Value: value}
	for _, opt := range opts {
		opt(&in)
	}
	in.Type = typ
	return e.Record(in)
}

// Record stores a metric described by in. See RecordMetric.
func (e *Engine) Record(in model.MetricInput) model.Result {
	if !e.cfg.Enabled {
		return model.Skipped(model.SkipEngineDisabled)
	}
	if !in.Type.Valid() {
		return model.Skipped(model.SkipInvalidType)
	}
	if !e.cfg.MetricEnabled(in.Type) {
		return model.Skipped(model.SkipTypeDisabled)
	}

	unit := in.Unit
	if unit == "" {
		unit = model.DefaultUnit
	}
	m := model.Metric{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Name:      in.Name,
		Value:     in.Value,
		Unit:      unit,
		Timestamp: e.clock.Now(),
		Tags:      model.CloneTags(in.Tags),
		Metadata:  in.Metadata,
	}
	if th, ok := e.cfg.ThresholdFor(in.Type); ok {
		m.Threshold = &th
	}
	m = m.Clone()

	e.metrics.Add(m)
	e.bus.Publish(events.MetricRecorded, m.Clone())
	e.evaluate(m)

	if e.metrics.Len() > e.cfg.BufferSize {
		e.requestFlush()
	}
	return model.Recorded(m.Clone())
}

// evaluate raises at most one alert for m and hands it to the dispatcher.
func (e *Engine) evaluate(m model.Metric) {
	if m.Threshold == nil || !e.cfg.Alerting.Enabled {
		return
	}
	a, ok := alert.Build(uuid.NewString(), m, *m.Threshold, e.clock.Now())
	if !ok {
		return
	}

	e.alertsMu.Lock()
	e.alerts = append(e.alerts, a)
	e.alertsMu.Unlock()

	e.bus.Publish(events.AlertRaised, a)
	e.dispatcher.Dispatch(a)
}

// requestFlush asks the flush loop to run soon. Requests coalesce.
func (e *Engine) requestFlush() {
	select {
	case e.flushReq <- struct{}{}:
	default:
	}
}
