package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	archiveTimeout = 30 * time.Second

	// Over-cap flushes evict down to BufferSize - BufferSize/lowWaterDivisor.
	lowWaterDivisor = 10
	// Cap-triggered flushes hold evicted metrics until this many buffers
	// are pending; the ticker and Flush write whatever is pending.
	archiveBatchFactor = 10
)

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.safeFlush(true)
		case <-e.flushReq:
			e.safeFlush(false)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) memoryLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.memInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.safeSample()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) safeFlush(force bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("flush panicked", zap.Any("panic", r))
		}
	}()
	e.flush(force)
}

func (e *Engine) safeSample() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("memory sample panicked", zap.Any("panic", r))
		}
	}()
	if _, err := e.SampleMemory(); err != nil {
		e.logger.Warn("memory sample failed", zap.Error(err))
	}
}

// Flush prunes metrics older than 24 hours, evicts down to the low-water
// mark when the store is over the buffer size, archives everything that
// left memory since the last write and publishes a flush.completed event
// carrying the pre-flush count.
func (e *Engine) Flush() model.FlushStats {
	return e.flush(true)
}

// lowWater is the store size an over-cap flush evicts down to.
func (e *Engine) lowWater() int {
	return e.cfg.BufferSize - e.cfg.BufferSize/lowWaterDivisor
}

// flush with force unset writes the archive only once the pending batch
// reaches archiveBatchFactor buffers, so cap pressure between ticks folds
// into few archive files.
func (e *Engine) flush(force bool) model.FlushStats {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	now := e.clock.Now()
	cutoff := now.Add(-model.MemoryCutoff)
	count := e.metrics.Len()

	pruned := e.metrics.PruneBefore(cutoff)
	var evicted []model.Metric
	if e.metrics.Len() > e.cfg.BufferSize {
		evicted = e.metrics.EvictOldest(e.lowWater())
	}
	stats := model.FlushStats{
		Timestamp: now,
		Count:     count,
		Pruned:    len(pruned),
		Evicted:   len(evicted),
	}

	if e.archiver != nil {
		e.pendingArchive = append(e.pendingArchive, pruned...)
		e.pendingArchive = append(e.pendingArchive, evicted...)
		if len(e.pendingArchive) > 0 && (force || len(e.pendingArchive) >= e.cfg.BufferSize*archiveBatchFactor) {
			stats.Archived = e.writePending()
		}
	}

	if n := e.pruneResolvedAlerts(cutoff); n > 0 {
		e.logger.Debug("pruned resolved alerts", zap.Int("alerts", n))
	}

	e.bus.Publish(events.FlushCompleted, stats)
	if stats.Pruned+stats.Evicted > 0 {
		e.logger.Info("flush",
			zap.Int("count", stats.Count),
			zap.Int("pruned", stats.Pruned),
			zap.Int("evicted", stats.Evicted),
			zap.Int("archived", stats.Archived))
	}
	return stats
}

// writePending hands the pending batch to the archiver. A failed batch is
// dropped so memory stays bounded. flushMu must be held.
func (e *Engine) writePending() int {
	batch := e.pendingArchive
	e.pendingArchive = nil

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	n, err := e.archiver.Archive(ctx, batch)
	if err != nil {
		e.logger.Warn("archive flushed metrics", zap.Int("metrics", len(batch)), zap.Error(err))
	}
	return n
}
