package model

// IngestEnvelope carries one raw line with source metadata.
// It is the transport contract between network listeners and processing.
type IngestEnvelope struct {
	Source string
	Remote string
	Line   string
	// Closed marks the end of Remote's stream. Line is empty.
	Closed bool
}

// MetricInput is the wire shape accepted by every ingestion surface
// (HTTP, TCP, socket RPC, OTLP).
type MetricInput struct {
	Type     MetricType        `json:"type" binding:"required"`
	Name     string            `json:"name" binding:"required"`
	Value    float64           `json:"value"`
	Unit     string            `json:"unit,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}
