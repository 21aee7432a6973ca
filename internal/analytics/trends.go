package analytics

import (
	"sort"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

type bucketKey struct {
	start time.Time
	hour  int
}

// Trends buckets metrics by hour. In hourly mode a bucket is a calendar
// (date, hour) pair; in hour-of-day mode every day folds onto the same 24
// buckets. Only hours that contain metrics are returned, ascending.
func Trends(metrics []model.Metric, opts Options) model.Trends {
	mode := opts.TrendMode
	if mode == "" {
		mode = model.TrendHourly
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	groups := make(map[bucketKey]*aggregate)
	for _, m := range metrics {
		k := keyFor(m.Timestamp.In(loc), mode)
		agg, ok := groups[k]
		if !ok {
			agg = &aggregate{}
			groups[k] = agg
		}
		agg.add(m)
	}

	keys := make([]bucketKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].start.Equal(keys[j].start) {
			return keys[i].start.Before(keys[j].start)
		}
		return keys[i].hour < keys[j].hour
	})

	out := model.Trends{
		Mode:         mode,
		Buckets:      make([]model.TrendBucket, 0, len(keys)),
		ResponseTime: make([]float64, 0, len(keys)),
		MemoryUsage:  make([]float64, 0, len(keys)),
		Throughput:   make([]int, 0, len(keys)),
		ErrorRate:    make([]float64, 0, len(keys)),
	}
	for _, k := range keys {
		agg := groups[k]
		b := model.TrendBucket{
			Start:               k.start,
			Hour:                k.hour,
			Count:               agg.total,
			AverageResponseTime: agg.avgResponseTime(),
			PeakMemoryUsage:     agg.memPeak,
			Throughput:          agg.total,
			ErrorRate:           agg.errorRate(),
		}
		out.Buckets = append(out.Buckets, b)
		out.ResponseTime = append(out.ResponseTime, b.AverageResponseTime)
		out.MemoryUsage = append(out.MemoryUsage, b.PeakMemoryUsage)
		out.Throughput = append(out.Throughput, b.Throughput)
		out.ErrorRate = append(out.ErrorRate, b.ErrorRate)
	}
	return out
}

func keyFor(ts time.Time, mode model.TrendMode) bucketKey {
	if mode == model.TrendHourOfDay {
		return bucketKey{hour: ts.Hour()}
	}
	y, mo, d := ts.Date()
	return bucketKey{
		start: time.Date(y, mo, d, ts.Hour(), 0, 0, 0, ts.Location()),
		hour:  ts.Hour(),
	}
}
