/*
fanout.go - Rate-change fan-out dispatch

PURPOSE:
  A rate-table edit can affect an unbounded number of installments, so it
  is never handled inside the editor's request. The Engine hands a
  FanOutJob to a Dispatcher:

    Queue:  bounded channel drained by background workers (production)
    Inline: runs the job in the caller's goroutine (tests, CLI)

  Each job runs a repair pass scoped to the rate's (insurer, type) pair,
  which re-links null/stale installments and rewrites drifted amounts.

BACKPRESSURE:
  Enqueue never blocks. When the queue is full it returns ErrQueueFull; the
  periodic repair sweep picks up whatever the dropped job would have fixed.
*/
package commission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/premium-engine/internal/metrics"
)

// FanOutJob asks for every installment under Rate's pair to be re-evaluated.
type FanOutJob struct {
	Rate       RateEntry
	EnqueuedAt time.Time
}

// JobHandler executes one fan-out job.
type JobHandler func(ctx context.Context, job FanOutJob) error

// Dispatcher accepts fan-out jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job FanOutJob) error
}

// =============================================================================
// INLINE
// =============================================================================

// Inline runs jobs synchronously.
type Inline struct {
	Handler JobHandler
}

func (d Inline) Dispatch(ctx context.Context, job FanOutJob) error {
	return d.Handler(ctx, job)
}

// =============================================================================
// QUEUE
// =============================================================================

// Queue runs jobs on background workers.
type Queue struct {
	handler JobHandler
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics

	jobs   chan FanOutJob
	mu     sync.Mutex
	closed bool
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewQueue creates a queue with the given worker count and capacity.
func NewQueue(handler JobHandler, workers, capacity int, logger *zap.Logger, m *metrics.Metrics) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		handler: handler,
		workers: workers,
		logger:  logger,
		metrics: m,
		jobs:    make(chan FanOutJob, capacity),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ctx, q.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			q.work(gctx, worker)
			return nil
		})
	}
	q.group = g
	q.logger.Info("fan-out queue started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.jobs)))
}

func (q *Queue) work(ctx context.Context, worker int) {
	for job := range q.jobs {
		if ctx.Err() != nil {
			q.metrics.IncFanOut("dropped")
			continue
		}
		log := q.logger.With(
			zap.Int("worker", worker),
			zap.String("rate_id", string(job.Rate.ID)),
			zap.Stringer("pair", job.Rate.Pair()))

		if err := q.handler(ctx, job); err != nil {
			q.metrics.IncFanOut("failed")
			log.Error("fan-out job failed", zap.Error(err))
			continue
		}
		q.metrics.IncFanOut("completed")
		log.Debug("fan-out job done", zap.Duration("latency", time.Since(job.EnqueuedAt)))
	}
}

// Dispatch enqueues job without blocking.
func (q *Queue) Dispatch(_ context.Context, job FanOutJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- job:
		q.metrics.IncFanOut("enqueued")
		return nil
	default:
		q.metrics.IncFanOut("dropped")
		q.logger.Warn("fan-out queue full, job dropped",
			zap.String("rate_id", string(job.Rate.ID)),
			zap.Stringer("pair", job.Rate.Pair()))
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains what is queued and waits for the workers.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	group, cancel := q.group, q.cancel
	q.mu.Unlock()

	if group == nil {
		return nil
	}
	err := group.Wait()
	cancel()
	q.logger.Info("fan-out queue stopped")
	return err
}

// Abort cancels in-flight jobs and drops the queued ones. It may run while
// another goroutine is blocked in Close, which then returns promptly.
// Interrupted repair passes are safe to leave: committed policies stay
// corrected.
func (q *Queue) Abort() error {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return q.Close()
}
