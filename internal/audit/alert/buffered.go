package alert

import (
	"context"
	"log/slog"
	"time"

	"auditlog/internal/audit"
)

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 200 * time.Millisecond
)

// Buffered decouples the recorder from a slow sink. PublishSuspicious only
// enqueues; Run delivers in the background. Delivery failures are logged and
// the event is not retried.
type Buffered struct {
	next     audit.AlertPublisher
	buf      *RingBuffer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	wake     chan struct{}
}

type BufferedOption func(*Buffered)

func WithFlushInterval(d time.Duration) BufferedOption {
	return func(b *Buffered) {
		b.interval = d
	}
}

func NewBuffered(next audit.AlertPublisher, capacity int, logger *slog.Logger, opts ...BufferedOption) *Buffered {
	b := &Buffered{
		next:     next,
		buf:      NewRingBuffer(capacity),
		logger:   logger,
		interval: defaultFlushInterval,
		batch:    defaultBatchSize,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishSuspicious enqueues e and never fails.
func (b *Buffered) PublishSuspicious(_ context.Context, e audit.Event) error {
	b.buf.Enqueue(e)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run delivers queued alerts until ctx is cancelled, then drains what is left
// using a fresh context.
func (b *Buffered) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.flush(drainCtx)
			cancel()
			return nil
		case <-b.wake:
		case <-ticker.C:
		}
		b.flush(ctx)
	}
}

func (b *Buffered) flush(ctx context.Context) {
	for {
		batch := b.buf.DequeueBatch(b.batch)
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			if err := b.next.PublishSuspicious(ctx, e); err != nil {
				b.logger.WarnContext(ctx, "suspicious event alert failed",
					"audit_id", e.ID,
					"error", err,
				)
			}
		}
	}
}

// Pending returns the number of queued alerts.
func (b *Buffered) Pending() int { return b.buf.Len() }

// Dropped returns how many alerts were evicted because the queue was full.
func (b *Buffered) Dropped() int64 { return b.buf.Dropped() }
