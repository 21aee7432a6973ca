package ingest

import "github.com/tinytelemetry/pulse/internal/model"

const (
	// ProcessorName is the name of the metric line processor.
	ProcessorName = "metrics"
)

// EnvelopeProcessor consumes source-tagged ingest lines and records metrics.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// NewEnvelopeProcessor creates the metric line processor.
func NewEnvelopeProcessor(rec model.MetricRecorder, sourceName string) EnvelopeProcessor {
	return NewProcessor(rec, sourceName)
}
