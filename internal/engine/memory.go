package engine

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tinytelemetry/pulse/internal/model"
)

// MemoryReading is a point-in-time memory figure in bytes.
type MemoryReading struct {
	HeapUsed  uint64
	HeapTotal uint64
	RSS       uint64
}

// MemoryReader samples process memory.
type MemoryReader func() (MemoryReading, error)

// newProcessMemoryReader reads heap figures from the Go runtime and the
// resident set size from the OS. When the OS query fails RSS falls back
// to the runtime's total obtained memory.
func newProcessMemoryReader() MemoryReader {
	var (
		once sync.Once
		proc *process.Process
		perr error
	)
	return func() (MemoryReading, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		r := MemoryReading{HeapUsed: ms.HeapAlloc, HeapTotal: ms.HeapSys, RSS: ms.Sys}

		once.Do(func() {
			proc, perr = process.NewProcess(int32(os.Getpid()))
		})
		if perr != nil {
			return r, nil
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			r.RSS = info.RSS
		}
		return r, nil
	}
}

// SampleMemory records heap used, heap total and RSS as memory_usage
// metrics in megabytes.
func (e *Engine) SampleMemory() ([]model.Result, error) {
	r, err := e.readMemory()
	if err != nil {
		return nil, err
	}
	samples := []struct {
		name  string
		kind  string
		bytes uint64
	}{
		{"heap_used", "heap", r.HeapUsed},
		{"heap_total", "heap", r.HeapTotal},
		{"rss", "rss", r.RSS},
	}
	out := make([]model.Result, 0, len(samples))
	for _, s := range samples {
		out = append(out, e.RecordMetric(model.MemoryUsage, s.name, toMB(s.bytes),
			WithUnit("MB"),
			WithTags(map[string]string{model.TagKind: s.kind}),
		))
	}
	return out, nil
}

func toMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
