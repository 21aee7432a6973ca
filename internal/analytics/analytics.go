// Package analytics derives summary, trend, bottleneck and recommendation
// views from a set of metrics. Every function here is pure: inputs are
// never mutated and no state is kept between calls.
package analytics

import (
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Options tune how views are computed.
type Options struct {
	TrendMode model.TrendMode
	// Location is the zone trend buckets are cut in. Nil means time.Local.
	Location *time.Location
}

// Compute builds the full report for metrics already filtered to [start, end].
func Compute(start, end time.Time, metrics []model.Metric, opts Options) model.Analytics {
	return model.Analytics{
		Start:           start,
		End:             end,
		Summary:         Summarize(metrics),
		Trends:          Trends(metrics, opts),
		Bottlenecks:     Bottlenecks(metrics),
		Recommendations: Recommend(metrics),
	}
}

// aggregate holds the running figures shared by the summary, trend and
// recommendation views.
type aggregate struct {
	total      int
	errors     int
	rtSum      float64
	rtCount    int
	memPeak    float64
	memCounted bool
}

func (a *aggregate) add(m model.Metric) {
	a.total++
	if m.IsError() {
		a.errors++
	}
	switch m.Type {
	case model.ResponseTime:
		a.rtSum += m.Value
		a.rtCount++
	case model.MemoryUsage:
		if !a.memCounted || m.Value > a.memPeak {
			a.memPeak = m.Value
			a.memCounted = true
		}
	}
}

func (a *aggregate) avgResponseTime() float64 {
	if a.rtCount == 0 {
		return 0
	}
	return a.rtSum / float64(a.rtCount)
}

// errorRate is the error share in percent.
func (a *aggregate) errorRate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.errors) / float64(a.total) * 100
}

func aggregateAll(metrics []model.Metric) aggregate {
	var a aggregate
	for _, m := range metrics {
		a.add(m)
	}
	return a
}
