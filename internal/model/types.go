package model

import "time"

// MetricType classifies a measurement. The set is closed: see AllMetricTypes.
type MetricType string

const (
	ResponseTime       MetricType = "response_time"
	Throughput         MetricType = "throughput"
	MemoryUsage        MetricType = "memory_usage"
	CPUUsage           MetricType = "cpu_usage"
	DatabaseQuery      MetricType = "database_query"
	APICall            MetricType = "api_call"
	PageLoad           MetricType = "page_load"
	BundleSize         MetricType = "bundle_size"
	RenderTime         MetricType = "render_time"
	StudyCreation      MetricType = "study_creation"
	ParticipantSession MetricType = "participant_session"
	BlockExecution     MetricType = "block_execution"
)

var allMetricTypes = []MetricType{
	ResponseTime, Throughput, MemoryUsage, CPUUsage, DatabaseQuery, APICall,
	PageLoad, BundleSize, RenderTime, StudyCreation, ParticipantSession, BlockExecution,
}

// AllMetricTypes returns every known metric type in declaration order.
func AllMetricTypes() []MetricType {
	out := make([]MetricType, len(allMetricTypes))
	copy(out, allMetricTypes)
	return out
}

// Valid reports whether t is one of the known metric types.
func (t MetricType) Valid() bool {
	for _, known := range allMetricTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultUnit is applied when a metric is recorded without a unit.
const DefaultUnit = "ms"

// Tag keys the engine itself interprets.
const (
	TagError   = "error"
	TagKind    = "kind"
	TagSession = "session"
)

// Threshold is a warning/critical value pair for one metric type.
type Threshold struct {
	Warning  float64 `json:"warning" mapstructure:"warning" yaml:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical" yaml:"critical" validate:"gtefield=Warning"`
}

// Metric is a single recorded observation. Values handed out by the engine
// are copies; mutating one never affects stored state.
type Metric struct {
	ID        string            `json:"id"`
	Type      MetricType        `json:"type"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Threshold *Threshold        `json:"threshold,omitempty"`
}

// IsError reports whether the metric is tagged error="true".
func (m Metric) IsError() bool {
	return m.Tags[TagError] == "true"
}

// Clone returns a copy that shares no maps or pointers with m.
// Metadata values are copied shallowly.
func (m Metric) Clone() Metric {
	out := m
	out.Tags = CloneTags(m.Tags)
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.Threshold != nil {
		th := *m.Threshold
		out.Threshold = &th
	}
	return out
}

// CloneTags copies a tag map. A nil map stays nil.
func CloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// Severity is the level of a raised alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised when a metric breaches its threshold. Metric is a value
// snapshot and never changes after creation.
type Alert struct {
	ID         string     `json:"id"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Metric     Metric     `json:"metric"`
	Threshold  float64    `json:"threshold"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Session is a named time span. Metrics is filled in when the session ends.
type Session struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"startTime"`
	EndTime   *time.Time        `json:"endTime,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Metrics   []Metric          `json:"metrics,omitempty"`
}

// Open reports whether the session has not ended yet.
func (s Session) Open() bool {
	return s.EndTime == nil
}
