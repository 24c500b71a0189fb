package sweeper

import (
	"context"
	"sync"
)

// serialQueue is an unbounded FIFO drained by a single goroutine. Submitted
// tasks are never dropped.
type serialQueue struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

func newSerialQueue() *serialQueue {
	return &serialQueue{wake: make(chan struct{}, 1)}
}

func (q *serialQueue) push(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serialQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *serialQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			for {
				task, ok := q.pop()
				if !ok {
					break
				}
				if ctx.Err() != nil {
					return
				}
				task()
			}
		}
	}
}
