package model

import "time"

// Analytics is the report computed over a time window.
type Analytics struct {
	Start           time.Time        `json:"start"`
	End             time.Time        `json:"end"`
	Summary         Summary          `json:"summary"`
	Trends          Trends           `json:"trends"`
	Bottlenecks     []Bottleneck     `json:"bottlenecks"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Summary holds aggregate figures for a window.
type Summary struct {
	TotalMetrics        int      `json:"totalMetrics"`
	AverageResponseTime float64  `json:"averageResponseTime"`
	PeakMemoryUsage     float64  `json:"peakMemoryUsage"`
	ErrorCount          int      `json:"errorCount"`
	SlowestOperations   []Metric `json:"slowestOperations"`
	FastestOperations   []Metric `json:"fastestOperations"`
}

// TrendBucket is one time bucket of a trend series. Start is the bucket's
// first instant in hourly mode and zero in hour-of-day mode.
type TrendBucket struct {
	Start               time.Time `json:"start,omitempty"`
	Hour                int       `json:"hour"`
	Count               int       `json:"count"`
	AverageResponseTime float64   `json:"averageResponseTime"`
	PeakMemoryUsage     float64   `json:"peakMemoryUsage"`
	Throughput          int       `json:"throughput"`
	ErrorRate           float64   `json:"errorRate"`
}

// Trends holds chronologically ordered buckets plus parallel value series.
type Trends struct {
	Mode         TrendMode     `json:"mode"`
	Buckets      []TrendBucket `json:"buckets"`
	ResponseTime []float64     `json:"responseTime"`
	MemoryUsage  []float64     `json:"memoryUsage"`
	Throughput   []int         `json:"throughput"`
	ErrorRate    []float64     `json:"errorRate"`
}

// Impact grades a bottleneck.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Weight orders impacts for ranking.
func (i Impact) Weight() int {
	switch i {
	case ImpactHigh:
		return 3
	case ImpactMedium:
		return 2
	case ImpactLow:
		return 1
	}
	return 0
}

// Bottleneck is a (type, name) group that is both slow and frequent.
type Bottleneck struct {
	Type        MetricType `json:"type"`
	Name        string     `json:"name"`
	AverageTime float64    `json:"averageTime"`
	Frequency   int        `json:"frequency"`
	Impact      Impact     `json:"impact"`
	Suggestion  string     `json:"suggestion"`
}

// Priority grades a recommendation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight orders priorities for ranking.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Recommendation is an actionable hint derived from a window.
type Recommendation struct {
	Category    string   `json:"category"`
	Priority    Priority `json:"priority"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	RecentMetrics    []Metric         `json:"recentMetrics"`
	OpenSessions     []Session        `json:"openSessions"`
	UnresolvedAlerts []Alert          `json:"unresolvedAlerts"`
	Counters         map[string]int64 `json:"counters"`
	Process          ProcessStats     `json:"process"`
}

// ProcessStats describes the hosting process.
type ProcessStats struct {
	PID         int           `json:"pid"`
	Uptime      time.Duration `json:"uptime"`
	Goroutines  int           `json:"goroutines"`
	HeapAllocMB float64       `json:"heapAllocMB"`
	HeapSysMB   float64       `json:"heapSysMB"`
	RSSMB       float64       `json:"rssMB"`
	NumGC       uint32        `json:"numGC"`
}

// FlushStats reports what one flush did.
type FlushStats struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Pruned    int       `json:"pruned"`
	Evicted   int       `json:"evicted"`
	Archived  int       `json:"archived"`
}
