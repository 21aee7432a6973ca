package analytics

import (
	"fmt"
	"sort"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	slowResponseTime = 2000
	highMemoryMB     = 512
	// errorShare is a fraction of all metrics, not a percentage.
	errorShare = 0.05
)

// Recommend applies the response time, memory and error rate rules and
// returns matches ordered by priority, most urgent first.
func Recommend(metrics []model.Metric) []model.Recommendation {
	agg := aggregateAll(metrics)
	out := make([]model.Recommendation, 0, 3)

	if avg := agg.avgResponseTime(); avg > slowResponseTime {
		out = append(out, model.Recommendation{
			Category:    "performance",
			Priority:    model.PriorityHigh,
			Title:       "Slow response times",
			Description: fmt.Sprintf("Average response time is %.0fms, above the %dms target.", avg, slowResponseTime),
			Actions: []string{
				"Profile the slowest operations listed in the summary",
				"Cache results of repeated expensive calls",
				"Move non-critical work to background jobs",
			},
		})
	}

	if agg.memCounted && agg.memPeak > highMemoryMB {
		out = append(out, model.Recommendation{
			Category:    "memory",
			Priority:    model.PriorityMedium,
			Title:       "High memory usage",
			Description: fmt.Sprintf("Peak memory usage reached %.0fMB, above %dMB.", agg.memPeak, highMemoryMB),
			Actions: []string{
				"Check for retained references and unbounded caches",
				"Stream large payloads instead of buffering them",
			},
		})
	}

	if agg.total > 0 && float64(agg.errors)/float64(agg.total) > errorShare {
		out = append(out, model.Recommendation{
			Category:    "reliability",
			Priority:    model.PriorityCritical,
			Title:       "Elevated error rate",
			Description: fmt.Sprintf("%.1f%% of metrics in this window are tagged as errors.", agg.errorRate()),
			Actions: []string{
				"Inspect error-tagged metrics for a common operation",
				"Add retries or fallbacks around failing dependencies",
			},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Weight() > out[j].Priority.Weight()
	})
	return out
}
