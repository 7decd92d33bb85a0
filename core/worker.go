package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"icarus/metrics"

	"go.uber.org/zap"
)

// WorkerPool runs the extract→decide path for distinct observations in
// parallel. Tasks are plain closures; panics are recovered so a poisoned
// observation never takes down a worker.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	name      string
}

// Errors returned by pool operations
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// NewWorkerPool creates a pool. Workers start on Start; cancelling the
// parent context stops them.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, name string, logger *zap.SugaredLogger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		name:      name,
	}
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool", wp.name, "workers", wp.workers, "queue_size", wp.queueSize)

	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop shuts the pool down, waiting up to 30s for in-flight tasks
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.name)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked", "pool", wp.name)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(-1)
	}
}

// Submit enqueues a task without blocking. A full queue surfaces as
// ErrWorkerPoolQueueFull so callers can apply backpressure instead of
// queueing indefinitely.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// QueuedTasks returns the current queue depth
func (wp *WorkerPool) QueuedTasks() int {
	return len(wp.taskCh)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker", "pool", wp.name, "worker_id", id, "panic", r)
					}
				}()
				task()
				metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name).Inc()
			}()
		}
	}
}
