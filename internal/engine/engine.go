// Package engine is the telemetry façade: it owns the metric, alert and
// session stores and runs the periodic flush and memory sampling tasks.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/alert"
	"github.com/tinytelemetry/pulse/internal/clock"
	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/session"
	"github.com/tinytelemetry/pulse/internal/store"
)

// DefaultMemorySampleInterval is how often process memory is recorded.
const DefaultMemorySampleInterval = 10 * time.Second

// Engine records metrics and derives alerts, sessions and analytics from
// them. All methods are safe for concurrent use.
type Engine struct {
	cfg      model.Config
	clock    clock.Clock
	logger   *zap.Logger
	bus      *events.Bus
	location *time.Location
	started  time.Time

	metrics    *store.Store
	sessions   *session.Tracker
	dispatcher *alert.Dispatcher
	archiver   model.Archiver
	readMemory MemoryReader

	alertsMu sync.RWMutex
	alerts   []model.Alert

	timersMu sync.Mutex
	timers   map[string]timer

	countersMu sync.Mutex
	counters   map[string]int64

	flushMu        sync.Mutex
	pendingArchive []model.Metric
	flushReq       chan struct{}
	memInterval    time.Duration
	done           chan struct{}
	wg             sync.WaitGroup
	stopOnce       sync.Once
}

type options struct {
	logger      *zap.Logger
	clock       clock.Clock
	bus         *events.Bus
	channels    []alert.Channel
	channelsSet bool
	archiver    model.Archiver
	memInterval time.Duration
	readMemory  MemoryReader
	location    *time.Location
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger. Sub-components get named children.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBus shares an existing event bus instead of creating one.
func WithBus(b *events.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithChannels overrides the channels built from alerting.channels.
func WithChannels(chs ...alert.Channel) Option {
	return func(o *options) {
		o.channels = chs
		o.channelsSet = true
	}
}

// WithArchiver persists metrics that flushes remove from memory.
func WithArchiver(a model.Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// WithMemorySampleInterval changes the sampler period. Zero disables it.
func WithMemorySampleInterval(d time.Duration) Option {
	return func(o *options) { o.memInterval = d }
}

// WithMemoryReader replaces the process memory source.
func WithMemoryReader(r MemoryReader) Option {
	return func(o *options) { o.readMemory = r }
}

// WithLocation sets the zone used for trend buckets.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// New builds an engine from cfg. When cfg.Enabled is set the flush loop
// and memory sampler start immediately; call Stop to end them.
func New(cfg model.Config, opts ...Option) (*Engine, error) {
	o := options{
		logger:      zap.NewNop(),
		clock:       clock.Real{},
		memInterval: DefaultMemorySampleInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.location == nil {
		o.location = time.Local
	}
	if o.readMemory == nil {
		o.readMemory = newProcessMemoryReader()
	}
	cfg = withDefaults(cfg)

	bus := o.bus
	if bus == nil {
		bus = events.New(
			events.WithLogger(o.logger.Named("events")),
			events.WithNow(o.clock.Now),
		)
	}

	channels := o.channels
	if !o.channelsSet && cfg.Alerting.Enabled {
		var err error
		channels, err = alert.NewChannels(cfg.Alerting.Channels, alert.ChannelOptions{
			Logger:          o.logger.Named("alert"),
			Bus:             bus,
			WebhookURL:      cfg.Alerting.WebhookURL,
			SlackWebhookURL: cfg.Alerting.SlackWebhookURL,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: alert channels: %w", err)
		}
	}

	e := &Engine{
		cfg:      cfg,
		clock:    o.clock,
		logger:   o.logger,
		bus:      bus,
		location: o.location,
		started:  o.clock.Now(),
		metrics:  store.New(cfg.BufferSize),
		sessions: session.NewTracker(),
		dispatcher: alert.NewDispatcher(channels, alert.DispatcherConfig{
			QueueSize: cfg.Alerting.QueueSize,
			Workers:   cfg.Alerting.Workers,
			Timeout:   cfg.Alerting.DeliveryTimeout,
			RateLimit: cfg.Alerting.RateLimit,
			Burst:     cfg.Alerting.Burst,
		}, o.logger.Named("dispatch")),
		archiver:    o.archiver,
		readMemory:  o.readMemory,
		timers:      make(map[string]timer),
		counters:    make(map[string]int64),
		flushReq:    make(chan struct{}, 1),
		memInterval: o.memInterval,
		done:        make(chan struct{}),
	}

	if cfg.Enabled {
		e.wg.Add(1)
		go e.flushLoop()
		if e.memInterval > 0 {
			e.wg.Add(1)
			go e.memoryLoop()
		}
	}
	return e, nil
}

func withDefaults(cfg model.Config) model.Config {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = model.DefaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = model.DefaultFlushInterval
	}
	if cfg.TrendMode == "" {
		cfg.TrendMode = model.TrendHourly
	}
	return cfg
}

// Config returns the effective configuration.
func (e *Engine) Config() model.Config { return e.cfg }

// Bus returns the event bus lifecycle notifications are published on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Store exposes read access to recorded metrics.
func (e *Engine) Store() model.MetricReader { return e.metrics }

// Clear wipes metrics, sessions, alerts, timers and counters.
func (e *Engine) Clear() {
	e.metrics.Clear()
	e.sessions.Clear()

	e.alertsMu.Lock()
	e.alerts = nil
	e.alertsMu.Unlock()

	e.timersMu.Lock()
	e.timers = make(map[string]timer)
	e.timersMu.Unlock()

	e.countersMu.Lock()
	e.counters = make(map[string]int64)
	e.countersMu.Unlock()
}

// Stop ends the background tasks and drains queued alert deliveries.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.dispatcher.Stop()
	})
}
