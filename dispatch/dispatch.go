// Package dispatch marshals work onto the single presentation goroutine.
// Post is callable from any goroutine; tasks run FIFO per poster when the
// presentation loop drains the queue between its own event cycles.
package dispatch

import "sync"

// Queue is a single-consumer task queue.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post enqueues a task. It never blocks and never runs the task inline, so
// it is safe from realtime and foreign-thread callbacks.
func (q *Queue) Post(task func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain runs every task queued so far on the calling goroutine and reports
// how many ran. Only the presentation goroutine calls Drain.
func (q *Queue) Drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

// Wake signals when tasks are pending. The presentation loop selects on it
// between event cycles and calls Drain when it fires.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Run drains tasks until stop fires. Used when the presentation layer has no
// event loop of its own to interleave with.
func (q *Queue) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			q.mu.Lock()
			q.closed = true
			q.mu.Unlock()
			q.Drain()
			return
		case <-q.wake:
			q.Drain()
		}
	}
}
