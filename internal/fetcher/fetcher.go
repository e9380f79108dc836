package fetcher

import (
	"context"
	"sync"

	"github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/pkg/errors"
)

// Task is a unit of work run by a worker of the pool.
type Task interface {
	Run(ctx context.Context)
}

// Overwatch is started with the pool and stopped when the pool is closed,
// e.g. a heartbeat keeping the server operation alive while tasks run.
type Overwatch interface {
	Start()
	Stop()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool interface {
	Submit(task Task) error
	Close()
}

var errPoolClosed = errors.New("worker pool is closed")

// NewWorkerPool starts numWorkers goroutines reading from a queue holding up
// to queueSize tasks. Tasks submitted after ctx is done are still run with
// the cancelled context so that they can record their own cancellation.
func NewWorkerPool(ctx context.Context, numWorkers, queueSize int, overWatch Overwatch, logger *logger.DBSQLLogger) (*workerPool, error) {
	if numWorkers < 1 {
		return nil, errors.Errorf("worker pool needs at least 1 worker, got %d", numWorkers)
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	wp := &workerPool{
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan Task, queueSize),
		overWatch: overWatch,
		logger:    logger,
	}

	wp.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go wp.work(i)
	}

	if overWatch != nil {
		overWatch.Start()
	}

	return wp, nil
}

type workerPool struct {
	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan Task
	overWatch Overwatch
	logger    *logger.DBSQLLogger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ WorkerPool = (*workerPool)(nil)

func (wp *workerPool) work(id int) {
	defer wp.wg.Done()

	for task := range wp.queue {
		task.Run(wp.ctx)
	}

	wp.logger.Trace().Msgf("worker %d: exiting", id)
}

// Submit queues a task. It only blocks if the queue is full and fails once
// the pool is closed.
func (wp *workerPool) Submit(task Task) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return errPoolClosed
	}

	select {
	case wp.queue <- task:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Close cancels running tasks, lets the workers drain the queue and waits
// for them to exit. Safe to call more than once.
func (wp *workerPool) Close() {
	wp.cancel()

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.queue)
	wp.mu.Unlock()

	wp.wg.Wait()

	if wp.overWatch != nil {
		wp.overWatch.Stop()
	}
}

// Done is closed when the pool is closed or its parent context is done.
func (wp *workerPool) Done() <-chan struct{} {
	return wp.ctx.Done()
}
