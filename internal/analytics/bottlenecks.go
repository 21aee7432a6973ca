package analytics

import (
	"sort"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Bottleneck classification limits.
const (
	bottleneckMinAverage   = 1000
	bottleneckMinFrequency = 5

	highImpactAverage   = 5000
	highImpactFrequency = 50
	mediumImpactAverage = 2000
	mediumImpactFreq    = 20
)

var suggestions = map[model.MetricType]string{
	model.DatabaseQuery:  "Add indexes for the filtered columns or cache repeated query results.",
	model.APICall:        "Batch or cache these calls and check upstream latency.",
	model.ResponseTime:   "Profile the handler and move slow work off the request path.",
	model.PageLoad:       "Reduce bundle size and lazy-load non-critical assets.",
	model.RenderTime:     "Memoize expensive components to avoid repeated renders.",
	model.BlockExecution: "Precompute block inputs so each execution does less work.",
	model.StudyCreation:  "Defer non-essential setup until after the study is created.",
}

const genericSuggestion = "Investigate this operation for optimization opportunities."

type groupKey struct {
	typ  model.MetricType
	name string
}

// Bottlenecks finds (type, name) groups averaging over 1000 with more than
// five samples, ranked by impact weight times average.
func Bottlenecks(metrics []model.Metric) []model.Bottleneck {
	type group struct {
		sum   float64
		count int
	}
	groups := make(map[groupKey]*group)
	for _, m := range metrics {
		k := groupKey{typ: m.Type, name: m.Name}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
		}
		g.sum += m.Value
		g.count++
	}

	out := make([]model.Bottleneck, 0)
	for k, g := range groups {
		avg := g.sum / float64(g.count)
		if avg <= bottleneckMinAverage || g.count <= bottleneckMinFrequency {
			continue
		}
		out = append(out, model.Bottleneck{
			Type:        k.typ,
			Name:        k.name,
			AverageTime: avg,
			Frequency:   g.count,
			Impact:      classify(avg, g.count),
			Suggestion:  suggestionFor(k.typ),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		si := float64(out[i].Impact.Weight()) * out[i].AverageTime
		sj := float64(out[j].Impact.Weight()) * out[j].AverageTime
		if si != sj {
			return si > sj
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func classify(avg float64, freq int) model.Impact {
	switch {
	case avg > highImpactAverage || freq > highImpactFrequency:
		return model.ImpactHigh
	case avg > mediumImpactAverage || freq > mediumImpactFreq:
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

func suggestionFor(typ model.MetricType) string {
	if s, ok := suggestions[typ]; ok {
		return s
	}
	return genericSuggestion
}
