package model

import (
	"context"
	"time"
)

// MetricRecorder accepts metrics from ingestion surfaces.
type MetricRecorder interface {
	Record(in MetricInput) Result
}

// MetricReader is the read side of the metric store.
type MetricReader interface {
	Range(start, end time.Time) []Metric
	Recent(n int) []Metric
	Len() int
}

// Archiver persists metrics leaving memory and reports how many it kept.
type Archiver interface {
	Archive(ctx context.Context, metrics []Metric) (int, error)
}
