package entitlements

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtzll/vidagent/internal/resilience"
)

// DefaultQueueSize is the number of events buffered before new ones are dropped.
const DefaultQueueSize = 256

// queuePolicy is shorter than the default: events wait behind each other.
var queuePolicy = resilience.Policy{
	MaxRetries:   2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Timeout:      10 * time.Second,
}

// Queue delivers usage events to a Tracker in the background.
// Delivery failures are logged and never reach the caller.
type Queue struct {
	tracker Tracker
	runner  *resilience.Runner
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

type QueueOption func(*Queue)

// WithQueueRunner replaces the retry runner used for delivery.
func WithQueueRunner(r *resilience.Runner) QueueOption {
	return func(q *Queue) { q.runner = r }
}

func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue starts a worker that forwards events to tracker.
func NewQueue(tracker Tracker, size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		tracker: tracker,
		logger:  slog.Default(),
		events:  make(chan Event, size),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.runner == nil {
		q.runner = resilience.NewRunner(nil, resilience.WithPolicy(queuePolicy), resilience.WithLogger(q.logger))
	}
	go q.run()
	return q
}

// Enqueue schedules ev for delivery without blocking. It reports false when
// the event was dropped because the queue is full or closed.
func (q *Queue) Enqueue(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		q.logger.Warn("usage event dropped: queue closed",
			slog.String("feature", ev.Feature.String()), slog.String("user", ev.UserID))
		return false
	}

	select {
	case q.events <- ev:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("usage event dropped: queue full",
			slog.String("feature", ev.Feature.String()), slog.String("user", ev.UserID))
		return false
	}
}

// Track implements Tracker by enqueueing. It never returns an error.
func (q *Queue) Track(_ context.Context, ev Event) error {
	q.Enqueue(ev)
	return nil
}

// Stats returns the number of dropped and undeliverable events.
func (q *Queue) Stats() (dropped, failed int64) {
	return q.dropped.Load(), q.failed.Load()
}

// Close stops accepting events and waits for buffered ones to be delivered
// or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.events {
		_, err := resilience.Do(context.Background(), q.runner, "", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, q.tracker.Track(ctx, ev)
		})
		if err != nil {
			q.failed.Add(1)
			q.logger.Warn("usage event not delivered",
				slog.String("feature", ev.Feature.String()),
				slog.String("user", ev.UserID),
				slog.Any("error", err),
			)
		}
	}
}
