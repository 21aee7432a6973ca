package model

import "fmt"

// Status tags the outcome of an ingestion or lookup call.
type Status int

const (
	StatusRecorded Status = iota + 1
	StatusSkipped
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusRecorded:
		return "recorded"
	case StatusSkipped:
		return "skipped"
	case StatusNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name so JSON payloads stay readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "recorded":
		*s = StatusRecorded
	case "skipped":
		*s = StatusSkipped
	case "not_found":
		*s = StatusNotFound
	default:
		return fmt.Errorf("model: unknown status %q", b)
	}
	return nil
}

// SkipReason explains why ingestion was skipped.
type SkipReason string

const (
	SkipEngineDisabled SkipReason = "engine disabled"
	SkipTypeDisabled   SkipReason = "metric type not enabled"
	SkipInvalidType    SkipReason = "unknown metric type"
)

// Result is the outcome of RecordMetric and EndTimer. Metric is only
// meaningful when Status is StatusRecorded.
type Result struct {
	Status Status     `json:"status"`
	Metric *Metric    `json:"metric,omitempty"`
	Reason SkipReason `json:"reason,omitempty"`
}

// Recorded wraps a stored metric.
func Recorded(m Metric) Result {
	return Result{Status: StatusRecorded, Metric: &m}
}

// Skipped reports a documented no-op.
func Skipped(reason SkipReason) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// NotFound reports a lookup miss.
func NotFound() Result {
	return Result{Status: StatusNotFound}
}

// OK reports whether a metric was recorded.
func (r Result) OK() bool {
	return r.Status == StatusRecorded && r.Metric != nil
}
