package scheduler

import (
	"context"
	"sync"
)

// taskQueue is an unbounded FIFO queue of ready tasks. Unbounded because
// retryable failures re-enter the queue and must never deadlock a worker
// trying to requeue; admission concurrency is bounded by the worker pool, not
// by the queue.
type taskQueue struct {
	mu     sync.Mutex
	items  []*Task
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		signal: make(chan struct{}, 1),
	}
}

func (q *taskQueue) push(t *Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest task, blocking until one is available or
// the context is cancelled.
func (q *taskQueue) pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			notEmpty := len(q.items) > 0
			q.mu.Unlock()
			if notEmpty {
				// Re-arm the signal for other waiting workers.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return t, nil
		}
		q.mu.Unlock()
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drain removes and returns all queued tasks.
func (q *taskQueue) drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
