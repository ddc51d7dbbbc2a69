// Package queue implements a paced, bounded-concurrency FIFO task runner.
//
// The queue is mechanism only: it runs tasks in order, at most Concurrency
// at a time and no closer together than Pace, and it reports when it has
// drained. Interpreting task outcomes is up to the tasks themselves.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwygoda/streamwatch/internal/clock"
)

// Task is one unit of work. A non-nil error is treated as an
// infrastructure failure and surfaces from AwaitIdle.
type Task func(ctx context.Context) error

// Config configures a Queue.
type Config struct {
	// Concurrency caps the number of tasks in flight. Values below 1 mean 1.
	Concurrency int
	// Pace is the minimum interval between two dispatches.
	Pace time.Duration
	// Paused creates the queue paused; nothing runs until Resume.
	Paused bool
}

// Queue is a paced FIFO task runner. The zero value is not usable; call New.
type Queue struct {
	clock       clock.Clock
	limiter     *rate.Limiter
	concurrency int

	mu      sync.Mutex
	pending []Task
	running int
	paused  bool
	err     error
	// wake is closed and replaced on every state change.
	wake chan struct{}
	// idle is closed while nothing is pending or running.
	idle   chan struct{}
	failed chan struct{}
}

// New creates a queue. Call Run to start dispatching.
func New(cfg Config, clk clock.Clock) *Queue {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if cfg.Pace > 0 {
		limit = rate.Every(cfg.Pace)
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		clock:       clk,
		limiter:     rate.NewLimiter(limit, 1),
		concurrency: concurrency,
		paused:      cfg.Paused,
		wake:        make(chan struct{}),
		idle:        idle,
		failed:      make(chan struct{}),
	}
}

// Enqueue appends a task to the tail of the queue.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isIdle() {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, t)
	q.signal()
}

// Pause stops further dispatches. Tasks already running are not interrupted.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.signal()
}

// Resume lets dispatching continue.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.signal()
}

// Paused reports whether the queue is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Size returns the number of pending plus running tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.running
}

// Pending returns the number of tasks waiting to be dispatched.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// AwaitIdle blocks until no task is pending or running, or until a task has
// failed. It returns the first task failure, if any, and clears it.
func (q *Queue) AwaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle, failed := q.idle, q.failed
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
	case <-failed:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	if err != nil {
		q.err = nil
		q.failed = make(chan struct{})
	}
	return err
}

// Run dispatches tasks until ctx is done, then waits for running tasks to
// return.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		task, ok := q.next(ctx)
		if !ok {
			return ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.execute(ctx, task)
		}()
	}
}

// next blocks until a task may be dispatched and pops it.
func (q *Queue) next(ctx context.Context) (Task, bool) {
	for {
		q.mu.Lock()
		if !q.dispatchable() {
			wake := q.wake
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, false
			case <-wake:
			}
			continue
		}
		q.mu.Unlock()

		now := q.clock.Now()
		r := q.limiter.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			if err := q.clock.Sleep(ctx, delay); err != nil {
				r.CancelAt(q.clock.Now())
				return nil, false
			}
		}

		q.mu.Lock()
		// Paused or drained while waiting for the pace slot.
		if !q.dispatchable() {
			q.mu.Unlock()
			r.CancelAt(q.clock.Now())
			continue
		}
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		q.mu.Unlock()
		return t, true
	}
}

func (q *Queue) execute(ctx context.Context, t Task) {
	err := run(ctx, t)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if err != nil && q.err == nil {
		q.err = err
		close(q.failed)
	}
	if q.isIdle() {
		select {
		case <-q.idle:
		default:
			close(q.idle)
		}
	}
	q.signal()
}

func run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t(ctx)
}

func (q *Queue) dispatchable() bool {
	return !q.paused && len(q.pending) > 0 && q.running < q.concurrency
}

func (q *Queue) isIdle() bool {
	return len(q.pending) == 0 && q.running == 0
}

func (q *Queue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}
