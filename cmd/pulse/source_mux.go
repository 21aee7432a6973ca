package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/source"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 10_000

// SourceStats counts what the multiplexer did with one source's envelopes.
type SourceStats struct {
	Name string `json:"name"`
	// Lines is how many non-blank lines were forwarded.
	Lines int64 `json:"lines"`
	// Blank lines are skipped.
	Blank int64 `json:"blank"`
	// Streams counts end-of-stream markers, one per finished connection.
	Streams int64 `json:"streams"`
	// Dropped envelopes were read but abandoned by Stop.
	Dropped int64 `json:"dropped"`
}

type sourceCounters struct {
	lines, blank, streams, dropped atomic.Int64
}

// SourceMultiplexer merges multiple line sources into a single read-only
// stream, stamping each envelope with its source name and counting per
// source.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources  []source.Source
	counters []*sourceCounters
	lines    chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []source.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	counters := make([]*sourceCounters, len(sources))
	for i := range counters {
		counters[i] = &sourceCounters{}
	}
	return &SourceMultiplexer{
		ctx:      ctx,
		cancel:   cancel,
		sources:  sources,
		counters: counters,
		lines:    make(chan model.IngestEnvelope, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}

		for i, src := range m.sources {
			m.wg.Add(1)
			go m.forward(src, m.counters[i])
		}

		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

// SourceNames lists the multiplexed sources in order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		names = append(names, src.Name())
	}
	return names
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.lines
}

// Stats returns per-source counters in source order.
func (m *SourceMultiplexer) Stats() []SourceStats {
	out := make([]SourceStats, len(m.sources))
	for i, src := range m.sources {
		c := m.counters[i]
		out[i] = SourceStats{
			Name:    src.Name(),
			Lines:   c.lines.Load(),
			Blank:   c.blank.Load(),
			Streams: c.streams.Load(),
			Dropped: c.dropped.Load(),
		}
	}
	return out
}

func (m *SourceMultiplexer) forward(src source.Source, c *sourceCounters) {
	defer m.wg.Done()

	name := src.Name()
	sourceLines := src.Lines()
	for {
		select {
		case <-m.ctx.Done():
			return
		case env, ok := <-sourceLines:
			if !ok {
				return
			}
			switch {
			case env.Closed:
				c.streams.Add(1)
			case env.Line == "":
				c.blank.Add(1)
				continue
			}
			if env.Source == "" {
				env.Source = name
			}
			select {
			case m.lines <- env:
				if !env.Closed {
					c.lines.Add(1)
				}
			case <-m.ctx.Done():
				c.dropped.Add(1)
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.lines)
	})
}
