package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influx "github.com/influxdata/influxdb1-client/v2"

	"dockstat/internal/check"
)

// Writer is the sink surface the batcher flushes through. The writer's
// own retry is authoritative: the batcher never re-runs a backoff loop
// around it, it only re-queues points when a write ultimately fails.
type Writer interface {
	WritePoints(ctx context.Context, points []*influx.Point) error
}

// Batcher accumulates points and flushes on size or time thresholds.
// Failed batches are re-queued while the process is alive, so points are
// never silently dropped short of shutdown.
type Batcher struct {
	writer  Writer
	maxSize int
	maxWait time.Duration

	// ctx covers background flushes triggered by size or timer.
	ctx context.Context

	mu           sync.Mutex
	pending      []*influx.Point
	timer        *time.Timer
	lastFlush    time.Time
	shuttingDown bool
}

// NewBatcher creates a batcher flushing through w. ctx bounds background
// flush writes; cancel it to stop in-flight retries at teardown.
func NewBatcher(ctx context.Context, w Writer, maxSize int, maxWait time.Duration) *Batcher {
	check.Assertf(maxSize > 0 && maxWait > 0, "batch thresholds must be positive, got size=%d wait=%s", maxSize, maxWait)
	return &Batcher{
		writer:    w,
		maxSize:   maxSize,
		maxWait:   maxWait,
		ctx:       ctx,
		lastFlush: time.Now(),
	}
}

// Add appends points to the current batch. Reaching maxSize triggers an
// immediate flush (fire-and-forget for the caller); otherwise a timer
// flush is scheduled for whatever remains of the maxWait window.
func (b *Batcher) Add(points ...*influx.Point) {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, points...)

	if len(b.pending) >= b.maxSize {
		b.stopTimerLocked()
		b.mu.Unlock()
		go b.Flush(b.ctx)
		return
	}

	if b.timer == nil {
		wait := max(0, b.maxWait-time.Since(b.lastFlush))
		b.timer = time.AfterFunc(wait, func() { b.Flush(b.ctx) })
	}
	b.mu.Unlock()
}

// Flush atomically detaches the current batch and writes it. On failure
// the detached points are re-queued ahead of anything added meanwhile,
// unless shutdown has begun, in which case they are dropped with a log.
// Points added during an in-flight flush land in the next batch.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	b.stopTimerLocked()
	batch := b.pending
	b.pending = nil
	b.lastFlush = time.Now()
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := b.writer.WritePoints(ctx, batch); err != nil {
		b.requeue(batch, err)
		return
	}
	slog.Debug("flushed batch", "points", len(batch))
}

func (b *Batcher) requeue(batch []*influx.Point, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shuttingDown {
		slog.Error("dropping batch, write failed during shutdown", "points", len(batch), "err", err)
		return
	}

	slog.Warn("batch write failed, re-queueing", "points", len(batch), "err", err)
	b.pending = append(batch, b.pending...)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, func() { b.Flush(b.ctx) })
	}
}

// Shutdown stops all scheduling and forces one final synchronous flush
// of whatever remains, regardless of size or time thresholds.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return nil
	}
	b.shuttingDown = true
	b.stopTimerLocked()
	b.mu.Unlock()

	b.Flush(ctx)
	return nil
}

// Pending reports the number of queued points.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
