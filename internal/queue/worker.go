package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/receipt-pipeline/internal/fault"
)

// Handler processes one task to a terminal state. A retryable error leaves
// the task in flight for redelivery; any other outcome acknowledges it.
type Handler func(ctx context.Context, task Task) error

// Source is the part of the queue a worker consumes.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, string, error)
	Ack(ctx context.Context, rawPayload string) error
}

// WorkerPool runs a bounded set of workers pulling tasks from a shared
// queue. Each task is processed start-to-finish on one worker; tasks are
// independent, so no ordering guarantee exists between them.
type WorkerPool struct {
	source      Source
	handler     Handler
	workers     int
	taskTimeout time.Duration
	pollTimeout time.Duration

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *workerMetrics
	mu      sync.Mutex
	running bool
}

// workerMetrics holds Prometheus metrics for the worker pool.
type workerMetrics struct {
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksInFlight  prometheus.Gauge
	taskDuration   prometheus.Histogram
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	metricsInstance *workerMetrics
	metricsOnce     sync.Once
)

func newWorkerMetrics() *workerMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &workerMetrics{
			tasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "receipt_worker_tasks_completed_total",
				Help: "Total number of tasks processed to a terminal status",
			}),
			tasksFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "receipt_worker_tasks_failed_total",
				Help: "Total number of task handler failures",
			}),
			tasksInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "receipt_worker_tasks_in_flight",
				Help: "Number of tasks currently being processed",
			}),
			taskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "receipt_worker_task_duration_seconds",
				Help:    "Time taken to process a task",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}),
		}
	})
	return metricsInstance
}

// NewWorkerPool creates a pool of workers over the given source.
func NewWorkerPool(source Source, handler Handler, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		source:      source,
		handler:     handler,
		workers:     workers,
		taskTimeout: 2 * time.Minute,
		pollTimeout: 5 * time.Second,
		metrics:     newWorkerMetrics(),
	}
}

// Start launches the worker goroutines. Calling Start on a running pool is
// safe, and a stopped pool can be started again: each Start runs its workers
// under a fresh context.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		slog.Warn("Worker pool already running")
		return
	}
	wp.running = true
	wp.ctx, wp.cancel = context.WithCancel(context.Background())

	slog.Info("Starting worker pool", "workers", wp.workers)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(wp.ctx, i)
	}
}

// worker is the main loop for each worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker stopping", "worker_id", id)
			return
		default:
		}

		task, payload, err := wp.source.Dequeue(ctx, wp.pollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Dequeue failed", "worker_id", id, "error", err)
			continue
		}

		wp.execute(ctx, id, task, payload)
	}
}

// execute runs one task and decides its acknowledgement. Fatal failures are
// acked because the error status is already durable; retryable ones stay on
// the processing list for redelivery.
func (wp *WorkerPool) execute(ctx context.Context, workerID int, task *Task, payload string) {
	wp.metrics.tasksInFlight.Inc()
	defer wp.metrics.tasksInFlight.Dec()

	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, wp.taskTimeout)
	defer cancel()

	err := wp.handler(taskCtx, *task)
	wp.metrics.taskDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		wp.metrics.tasksFailed.Inc()
		if fault.IsRetryable(err) {
			slog.Warn("Task failed, leaving for redelivery",
				"task_id", task.TaskID,
				"worker_id", workerID,
				"error", err)
			return
		}
		slog.Error("Task failed permanently",
			"task_id", task.TaskID,
			"worker_id", workerID,
			"error", err,
			"duration", time.Since(start))
	} else {
		wp.metrics.tasksCompleted.Inc()
		slog.Debug("Task done",
			"task_id", task.TaskID,
			"worker_id", workerID,
			"duration", time.Since(start))
	}

	if ackErr := wp.source.Ack(context.Background(), payload); ackErr != nil {
		slog.Error("Failed to ack task", "task_id", task.TaskID, "error", ackErr)
	}
}

// Stop shuts the pool down, waiting up to timeout for in-flight tasks.
// Unfinished tasks remain on the processing list and are requeued on the
// next startup.
func (wp *WorkerPool) Stop(timeout time.Duration) {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.mu.Unlock()

	slog.Info("Stopping worker pool")
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped")
	case <-time.After(timeout):
		slog.Warn("Worker pool stop timed out; abandoned tasks will be redelivered")
	}
}
