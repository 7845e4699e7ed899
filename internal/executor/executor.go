// Package executor provides a single-goroutine, strictly ordered task queue
// with immediate and delayed scheduling.
//
// An [Executor] runs exactly one task at a time and each task runs to
// completion before the next one is dequeued, so a long-running task (such as
// a capture loop) owns the executor for its whole lifetime. Immediate tasks
// run in submission order. Delayed tasks become eligible no earlier than
// their delay after submission and are then ordered with other eligible tasks
// by readiness time. All timing uses the monotonic clock.
//
// A task that returns an error or panics is logged and the loop moves on to
// the next task.
package executor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotStarted is returned when work is submitted before [Executor.Start].
	ErrNotStarted = errors.New("executor: not started")

	// ErrStopped is returned when work is submitted after [Executor.Stop].
	ErrStopped = errors.New("executor: stopped")

	// ErrAlreadyStarted is returned by a second call to [Executor.Start].
	ErrAlreadyStarted = errors.New("executor: already started")

	// ErrPanic wraps a value recovered from a panicking task.
	ErrPanic = errors.New("executor: task panicked")
)

// Task is a unit of work. ctx is cancelled when the executor stops; a
// long-running task must watch it and return.
type Task func(ctx context.Context) error

// Option configures an [Executor] during construction.
type Option func(*Executor)

// WithLogger sets the logger used for task failures. Defaults to
// [slog.Default] tagged with the executor name.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithErrorHandler registers fn to be called on the executor goroutine after
// every failed task (including panics). fn must not block.
func WithErrorHandler(fn func(err error)) Option {
	return func(e *Executor) {
		e.onError = fn
	}
}

// WithQueueCapacity sets the initial capacity hint for the task queues. The
// queues still grow past it as needed.
func WithQueueCapacity(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.immediate.items = make([]entry, 0, n)
			e.delayed = make(delayHeap, 0, n)
		}
	}
}

type runState int32

const (
	stateNew runState = iota
	stateRunning
	stateStopped
)

// Executor is a dedicated worker goroutine draining an ordered task queue.
// All exported methods are safe for concurrent use.
type Executor struct {
	name    string
	logger  *slog.Logger
	onError func(error)

	mu        sync.Mutex
	state     runState
	immediate fifo
	delayed   delayHeap
	seq       uint64

	ctx    context.Context
	cancel context.CancelFunc
	notify chan struct{} // signalled when a task is submitted
	done   chan struct{} // closed when the loop goroutine exits

	executed atomic.Uint64
	failed   atomic.Uint64
}

// New creates an [Executor]. It does not run anything until [Executor.Start].
func New(name string, opts ...Option) *Executor {
	e := &Executor{
		name:   name,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("executor", name)
	return e
}

// Name returns the name given to [New].
func (e *Executor) Name() string { return e.name }

// Start launches the loop goroutine and returns once it is ready to run
// tasks. Calling Start twice returns [ErrAlreadyStarted]; starting a stopped
// executor returns [ErrStopped].
func (e *Executor) Start() error {
	e.mu.Lock()
	switch e.state {
	case stateRunning:
		e.mu.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		e.mu.Unlock()
		return ErrStopped
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.state = stateRunning
	e.mu.Unlock()

	ready := make(chan struct{})
	go e.loop(e.ctx, ready)
	<-ready
	return nil
}

// Submit enqueues task for immediate execution after every immediate task
// submitted before it.
func (e *Executor) Submit(task Task) error {
	return e.SubmitDelayed(0, task)
}

// SubmitDelayed enqueues task to become eligible d after now. A zero or
// negative d is equivalent to [Executor.Submit].
func (e *Executor) SubmitDelayed(d time.Duration, task Task) error {
	if task == nil {
		return errors.New("executor: nil task")
	}
	e.mu.Lock()
	switch e.state {
	case stateNew:
		e.mu.Unlock()
		return fmt.Errorf("executor %q: submit: %w", e.name, ErrNotStarted)
	case stateStopped:
		e.mu.Unlock()
		return fmt.Errorf("executor %q: submit: %w", e.name, ErrStopped)
	}

	e.seq++
	now := time.Now()
	if d <= 0 {
		e.immediate.push(entry{task: task, readyAt: now, seq: e.seq})
	} else {
		heap.Push(&e.delayed, entry{task: task, readyAt: now.Add(d), seq: e.seq})
	}
	e.mu.Unlock()

	// Wake the loop goroutine.
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels the context of the running task, discards queued tasks and
// waits for the loop goroutine to exit. The running task is not interrupted;
// it must observe its context and return. Stop is idempotent and may be
// called on an executor that was never started.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.state = stateStopped
	discarded := e.immediate.Len() + e.delayed.Len()
	e.immediate = fifo{}
	e.delayed = nil
	cancel := e.cancel
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	if discarded > 0 {
		e.logger.Debug("discarding queued tasks on stop", "count", discarded)
	}
	cancel()
	<-e.done
}

// Done returns a channel that is closed once the loop goroutine has exited.
// It is never closed for an executor that was not started.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Pending returns the number of queued tasks, not counting the running one.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.immediate.Len() + e.delayed.Len()
}

// Executed returns how many tasks have run to completion (successfully or
// not).
func (e *Executor) Executed() uint64 { return e.executed.Load() }

// Failed returns how many tasks returned an error or panicked.
func (e *Executor) Failed() uint64 { return e.failed.Load() }

// loop is the executor goroutine. It runs until ctx is cancelled.
func (e *Executor) loop(ctx context.Context, ready chan<- struct{}) {
	defer close(e.done)

	// Reusable timer for the earliest delayed task.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	close(ready)
	for {
		task, wait, ok := e.next()
		if ok {
			e.run(ctx, task)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		var fire <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
			timer.Stop()
		case <-fire:
		}
	}
}

// next dequeues the first eligible task. When nothing is eligible it returns
// the time until the earliest delayed task, or zero when both queues are
// empty.
func (e *Executor) next() (task Task, wait time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	hasImmediate := e.immediate.Len() > 0
	hasDelayed := e.delayed.Len() > 0 && !e.delayed[0].readyAt.After(now)

	switch {
	case hasImmediate && hasDelayed:
		if e.delayed[0].before(e.immediate.peek()) {
			return heap.Pop(&e.delayed).(entry).task, 0, true
		}
		return e.immediate.pop().task, 0, true
	case hasImmediate:
		return e.immediate.pop().task, 0, true
	case hasDelayed:
		return heap.Pop(&e.delayed).(entry).task, 0, true
	case e.delayed.Len() > 0:
		return nil, e.delayed[0].readyAt.Sub(now), false
	default:
		return nil, 0, false
	}
}

// run executes one task, containing errors and panics.
func (e *Executor) run(ctx context.Context, task Task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
			}
		}()
		return task(ctx)
	}()
	e.executed.Add(1)

	if err == nil {
		return
	}
	e.failed.Add(1)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		e.logger.Debug("task cancelled by executor stop")
		return
	}
	e.logger.Error("task failed", "err", err)
	if e.onError != nil {
		e.onError(err)
	}
}
