package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/pulse/internal/model"
)

// DispatcherConfig holds tunables for the delivery pipeline.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds a single channel delivery. Zero means no bound.
	Timeout time.Duration
	// RateLimit caps deliveries per second per channel. Zero disables it.
	RateLimit float64
	Burst     int
}

// Dispatcher delivers alerts to every channel off the caller's goroutine.
// Dispatch never blocks: when the queue is full the alert is dropped and a
// throttled warning is logged.
type Dispatcher struct {
	channels []Channel
	limiters map[string]*rate.Limiter
	queue    chan model.Alert
	timeout  time.Duration
	logger   *zap.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	delivered   atomic.Int64
	dropped     atomic.Int64
	lastDropLog atomic.Int64
}

// NewDispatcher starts cfg.Workers delivery goroutines.
func NewDispatcher(channels []Channel, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = model.DefaultAlertQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = model.DefaultAlertWorkers
	}

	d := &Dispatcher{
		channels: channels,
		limiters: make(map[string]*rate.Limiter, len(channels)),
		queue:    make(chan model.Alert, cfg.QueueSize),
		timeout:  cfg.Timeout,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		for _, ch := range channels {
			d.limiters[ch.Name()] = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues an alert for delivery. It reports false when the alert
// was dropped because the dispatcher is stopped or the queue is full.
func (d *Dispatcher) Dispatch(a model.Alert) bool {
	if len(d.channels) == 0 {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- a:
		return true
	default:
		d.logDrop()
		return false
	}
}

// Delivered returns how many alerts finished the delivery fan-out.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Dropped returns how many alerts were rejected by a full queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Stop drains queued alerts and waits for workers to exit. Idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case a := <-d.queue:
			d.deliver(a)
		case <-d.done:
			for {
				select {
				case a := <-d.queue:
					d.deliver(a)
				default:
					return
				}
			}
		}
	}
}

// deliver fans one alert out to every channel concurrently. Channel
// failures are logged and never surface to the recorder.
func (d *Dispatcher) deliver(a model.Alert) {
	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			d.deliverOne(ch, a)
			return nil
		})
	}
	_ = g.Wait()
	d.delivered.Add(1)
}

func (d *Dispatcher) deliverOne(ch Channel, a model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert channel panicked",
				zap.String("channel", ch.Name()),
				zap.String("alert_id", a.ID),
				zap.Any("panic", r))
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if lim := d.limiters[ch.Name()]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			d.logger.Warn("alert rate limited",
				zap.String("channel", ch.Name()),
				zap.String("alert_id", a.ID),
				zap.Error(err))
			return
		}
	}

	if err := ch.Deliver(ctx, a); err != nil {
		d.logger.Warn("alert delivery failed",
			zap.String("channel", ch.Name()),
			zap.String("alert_id", a.ID),
			zap.Error(err))
	}
}

// logDrop emits at most one warning per 10 seconds while the queue is full.
func (d *Dispatcher) logDrop() {
	count := d.dropped.Add(1)
	now := time.Now().Unix()
	last := d.lastDropLog.Load()
	if now-last >= 10 && d.lastDropLog.CompareAndSwap(last, now) {
		d.logger.Warn("alert queue full, dropping alerts", zap.Int64("dropped_total", count))
	}
}
