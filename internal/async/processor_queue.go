package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

// ProcessorQueue is a bounded worker pool. Each worker drives one job at a
// time; jobs for different ids run in parallel across workers.
type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds a whole job run. Zero means no bound beyond the
// per-stage deadlines.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		ch:      make(chan Job, 256),
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := common.WithTimeout(q.base, q.timeout)
	defer cancel()
	ctx = common.WithJobID(ctx, job.JobID.String())
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}

	start := time.Now()
	if err := q.proc.Process(ctx, job.JobID); err != nil {
		q.logger.Error("processing failed", "worker_id", workerID, "job_id", job.JobID, "error", err)
		return
	}
	q.logger.Info("processed job", "worker_id", workerID, "job_id", job.JobID,
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(), "elapsed_ms", time.Since(start).Milliseconds())
}

// Enqueue hands job to the pool, blocking while the buffer is full.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.JobID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued job for processing", "job_id", job.JobID)
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "job_id", job.JobID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.base.Done():
		return ErrQueueClosed
	}
}

// Shutdown cancels running jobs, lets workers drain what is queued (each
// queued job sees a cancelled context) and waits for them or for ctx.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.cancel()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
