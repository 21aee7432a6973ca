package analytics

import (
	"sort"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Summarize computes totals plus the slowest and fastest operations.
// Slowest is ordered by value descending, fastest smallest first.
func Summarize(metrics []model.Metric) model.Summary {
	agg := aggregateAll(metrics)

	byValue := make([]model.Metric, len(metrics))
	copy(byValue, metrics)
	sort.SliceStable(byValue, func(i, j int) bool { return byValue[i].Value > byValue[j].Value })

	n := min(model.OperationListLimit, len(byValue))
	slowest := make([]model.Metric, 0, n)
	for _, m := range byValue[:n] {
		slowest = append(slowest, m.Clone())
	}
	fastest := make([]model.Metric, 0, n)
	for i := len(byValue) - 1; i >= len(byValue)-n; i-- {
		fastest = append(fastest, byValue[i].Clone())
	}

	return model.Summary{
		TotalMetrics:        agg.total,
		AverageResponseTime: agg.avgResponseTime(),
		PeakMemoryUsage:     agg.memPeak,
		ErrorCount:          agg.errors,
		SlowestOperations:   slowest,
		FastestOperations:   fastest,
	}
}
