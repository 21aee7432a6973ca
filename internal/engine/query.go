package engine

import (
	"os"
	"runtime"
	"time"

	"github.com/tinytelemetry/pulse/internal/analytics"
	"github.com/tinytelemetry/pulse/internal/model"
)

// GetAnalytics computes the report for metrics with start <= ts <= end.
// It never mutates stored state.
func (e *Engine) GetAnalytics(start, end time.Time) model.Analytics {
	metrics := e.metrics.Range(start, end)
	return analytics.Compute(start, end, metrics, analytics.Options{
		TrendMode: e.cfg.TrendMode,
		Location:  e.location,
	})
}

// GetSnapshot returns recent metrics, open sessions, unresolved alerts,
// counters and process statistics.
func (e *Engine) GetSnapshot() model.Snapshot {
	return model.Snapshot{
		Timestamp:        e.clock.Now(),
		RecentMetrics:    e.metrics.Recent(model.RecentLimit),
		OpenSessions:     e.sessions.Open(),
		UnresolvedAlerts: e.Alerts(true),
		Counters:         e.Counters(),
		Process:          e.ProcessStats(),
	}
}

// ProcessStats reports runtime figures for the hosting process.
func (e *Engine) ProcessStats() model.ProcessStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := model.ProcessStats{
		PID:         os.Getpid(),
		Uptime:      e.clock.Now().Sub(e.started),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: toMB(ms.HeapAlloc),
		HeapSysMB:   toMB(ms.HeapSys),
		NumGC:       ms.NumGC,
	}
	if r, err := e.readMemory(); err == nil {
		stats.RSSMB = toMB(r.RSS)
	} else {
		stats.RSSMB = toMB(ms.Sys)
	}
	return stats
}
