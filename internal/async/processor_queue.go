package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// ProcessorQueue runs jobs on a fixed set of workers. A path already waiting
// in the queue is not queued twice; the pending job reads the latest content
// when it runs.
type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(Job, error)

	ch      chan Job
	wg      sync.WaitGroup
	senders sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
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

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnDone registers a callback run after every job.
func WithOnDone(fn func(Job, error)) Option {
	return func(q *ProcessorQueue) { q.onDone = fn }
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 1,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
		pending: make(map[string]struct{}),
	}
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
				q.logger.Debug("queue.worker.start", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("queue.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	q.mu.Lock()
	delete(q.pending, job.Path)
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	out, err := q.proc.Process(ctx, job.Path)
	cancel()

	log := q.logger.With("worker_id", workerID, "path", job.Path, "trace_id", job.TraceID)
	switch {
	case err != nil:
		log.Error("queue.job.error", "error", err)
	case out.Skipped:
		log.Debug("queue.job.skipped")
	default:
		log.Info("queue.job.done", "status", out.Status, "wait_ms", time.Since(job.SubmittedAt).Milliseconds())
	}
	if q.onDone != nil {
		q.onDone(job, err)
	}
}

// Enqueue adds a job, blocking while the queue is full until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue.enqueue.closed", "path", job.Path)
		return ErrQueueClosed
	}
	if _, dup := q.pending[job.Path]; dup {
		q.mu.Unlock()
		q.logger.Debug("queue.enqueue.duplicate", "path", job.Path)
		return nil
	}
	q.pending[job.Path] = struct{}{}
	// Shutdown waits for in-flight senders before closing ch
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueue.ok", "path", job.Path, "trace_id", job.TraceID)
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, job.Path)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs, drains the queue and waits for workers
// until ctx is done.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.senders.Wait()
		close(q.ch)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
