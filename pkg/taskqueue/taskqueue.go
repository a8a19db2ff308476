// Package taskqueue implements the bounded task queue and fixed worker
// pool of spec.md §4.4: producers block only when full, a fixed-size pool
// of workers dispatches each task to its registered handler by type, and
// shutdown is a single broadcast rather than a drain. The select-on-queue-
// or-stop-channel worker loop generalizes the teacher's
// select(ticker, stop) shape in pkg/worker/worker.go from a polling loop
// into a blocking MPMC consumer.
package taskqueue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/types"
)

// DefaultCapacity is the fixed ring size spec.md §4.4 names.
const DefaultCapacity = 256

// Handler executes one task of a given type. Handlers own invoking
// task.Callback exactly once.
type Handler func(ctx context.Context, task *types.Task)

// WorkerCount computes min(max(runtime.NumCPU()+4, minWorkers), maxWorkers),
// the sizing rule spec.md §4.4 specifies.
func WorkerCount(minWorkers, maxWorkers int) int {
	n := runtime.NumCPU() + 4
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// Queue is a bounded MPMC task queue with a fixed worker pool.
type Queue struct {
	tasks  chan *types.Task
	stopCh chan struct{}
	stopped atomic.Bool
	group  *errgroup.Group

	mu       sync.RWMutex
	handlers map[types.TaskType]Handler

	workerCount atomic.Int64
}

// New creates a queue with the given capacity. Call RegisterHandler for
// every task type before Start.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		tasks:    make(chan *types.Task, capacity),
		stopCh:   make(chan struct{}),
		handlers: make(map[types.TaskType]Handler),
	}
}

// RegisterHandler binds a handler to a task type. Not safe to call
// concurrently with Start.
func (q *Queue) RegisterHandler(taskType types.TaskType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Start spawns workerCount worker goroutines under an errgroup, so
// Shutdown can wait for every in-flight task's current step to finish
// draining.
func (q *Queue) Start(ctx context.Context, workerCount int) {
	q.workerCount.Store(int64(workerCount))
	q.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		q.group.Go(func() error {
			q.runWorker(ctx)
			return nil
		})
	}
}

func (q *Queue) runWorker(ctx context.Context) {
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.execute(ctx, task)
		}
	}
}

func (q *Queue) execute(ctx context.Context, task *types.Task) {
	if task.Cancelled() {
		invokeCallback(task, types.Result{Err: apperr.New(apperr.InvalidParam, "task cancelled before execution")})
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		invokeCallback(task, types.Result{Err: apperr.New(apperr.Internal, "no handler registered for "+string(task.Type))})
		return
	}

	start := time.Now()
	outcome := "ok"
	original := task.Callback
	task.Callback = func(r types.Result) {
		if r.Err != nil {
			outcome = "error"
		}
		if original != nil {
			original(r)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("task %d (%s) panicked: %v", task.RequestID, task.Type, r))
			invokeCallback(task, types.Result{Err: apperr.New(apperr.Internal, "handler panic")})
		}
		metrics.TaskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
		metrics.TasksDispatchedTotal.WithLabelValues(string(task.Type), outcome).Inc()
	}()
	handler(ctx, task)
}

// Depth reports the number of tasks currently buffered in the queue,
// not counting tasks a worker has already dequeued and is executing.
func (q *Queue) Depth() int { return len(q.tasks) }

// WorkerCount reports the worker pool size passed to Start, or 0 before
// Start is called.
func (q *Queue) WorkerCount() int { return int(q.workerCount.Load()) }

func invokeCallback(task *types.Task, result types.Result) {
	if task.Callback != nil {
		task.Callback(result)
	}
}

// Submit enqueues a task, blocking only while the queue is full. It
// returns an error immediately if the queue has been shut down.
func (q *Queue) Submit(task *types.Task) error {
	if q.stopped.Load() {
		return apperr.New(apperr.NotInitialized, "task queue is shut down")
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.stopCh:
		return apperr.New(apperr.NotInitialized, "task queue is shut down")
	}
}

// Shutdown signals every worker to exit and waits for in-flight tasks'
// current step to finish. Workers do not drain the remaining queue; any
// task still pending when Shutdown returns is simply never executed.
func (q *Queue) Shutdown() {
	if q.stopped.CompareAndSwap(false, true) {
		close(q.stopCh)
	}
	if q.group != nil {
		_ = q.group.Wait()
	}
}
