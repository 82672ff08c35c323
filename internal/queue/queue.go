package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Queue is an unbounded FIFO of jobs shared by all workers.
//
// Shutdown is countdown-controlled: Shutdown(n) posts n stop notices and each
// one is handed to exactly one Take call, after every queued job is gone.
type Queue struct {
	mu      sync.Mutex
	jobs    []Job
	next    int
	stops   int
	closed  bool
	changed chan struct{}
}

func New() *Queue {
	return &Queue{changed: make(chan struct{})}
}

// Submit enqueues a command and assigns it the next index (0, 1, 2, ...).
func (q *Queue) Submit(command []string) (Job, error) {
	if len(command) == 0 {
		return Job{}, fmt.Errorf("command is empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, ErrClosed
	}
	job := Job{Index: q.next, Command: slices.Clone(command)}
	q.next++
	q.jobs = append(q.jobs, job)
	q.broadcastLocked()
	return job, nil
}

// Take blocks until a job or a stop notice is available. It returns
// ErrShutdown when it consumed a stop notice; the caller must not call Take
// again afterwards.
func (q *Queue) Take(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = Job{}
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.stops > 0 {
			q.stops--
			q.mu.Unlock()
			return Job{}, ErrShutdown
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-wait:
		}
	}
}

// Shutdown closes the queue for submission and posts n stop notices.
func (q *Queue) Shutdown(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.stops += n
	q.broadcastLocked()
}

// Len returns the number of jobs waiting to be taken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Submitted returns the number of jobs ever submitted.
func (q *Queue) Submitted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

// PendingStops returns the number of stop notices not yet consumed.
func (q *Queue) PendingStops() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stops
}

// broadcastLocked wakes every blocked Take. Caller holds q.mu.
func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
