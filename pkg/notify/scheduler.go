package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Scheduler defers work to a later tick.
//
// Derived values use it to postpone their auto-dispose check so that a
// listener removed and re-added within the same tick does not dispose them.
type Scheduler interface {
	Defer(task func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func())

// Defer calls f(task).
func (f SchedulerFunc) Defer(task func()) {
	f(task)
}

// Loop is an explicit deferred-task queue for hosts that own an event loop.
//
// Tasks queued with Defer run on the next Flush, in the order they were
// queued. Tasks queued by a running task run in the same Flush. Run drives
// the loop from its own goroutine.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	logger *slog.Logger
}

// NewLoop creates an empty loop. A nil logger uses slog.Default().
func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Defer queues task for the next flush. It is a no-op after Close.
func (l *Loop) Defer(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Flush runs queued tasks until the queue is empty and returns how many ran.
func (l *Loop) Flush() int {
	ran := 0
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		if len(tasks) == 0 {
			return ran
		}
		for _, task := range tasks {
			runTask(task, l.logger)
			ran++
		}
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run flushes the loop every time work is queued until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.Flush()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.Flush()
		}
	}
}

// Close drops queued tasks and rejects new ones.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.tasks = nil
}

// runTask runs a deferred task, logging a panic instead of propagating it.
func runTask(task func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("Deferred task panicked", slog.Any("panic", r), slog.String("stack", captureStack()))
		}
	}()
	task()
}

// turnQueue is the default scheduler. A turn is open while a Batch or a
// dispatch pass runs. Deferred tasks wait for the next time the outermost
// turn closes, or for Flush.
type turnQueue struct {
	mu    sync.Mutex
	depth int
	tasks []func()
}

var turns turnQueue

// DefaultScheduler returns the turn-based scheduler used when no Scheduler
// option is given.
func DefaultScheduler() Scheduler {
	return SchedulerFunc(turns.schedule)
}

func (q *turnQueue) enter() {
	q.mu.Lock()
	q.depth++
	q.mu.Unlock()
}

func (q *turnQueue) exit() {
	q.mu.Lock()
	q.depth--
	if q.depth > 0 || len(q.tasks) == 0 {
		q.mu.Unlock()
		return
	}

	// Hold a turn while draining so that tasks deferred by tasks queue up.
	q.depth++
	for len(q.tasks) > 0 {
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()
		for _, task := range tasks {
			runTask(task, nil)
		}
		q.mu.Lock()
	}
	q.depth--
	q.mu.Unlock()
}

func (q *turnQueue) schedule(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

func (q *turnQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Flush runs the tasks waiting on the default scheduler. Inside a Batch or a
// dispatch pass it is a no-op: the tasks run when the outermost turn closes.
//
// Tasks deferred outside any turn also run at the end of the next dispatch
// pass or Batch, so a process that keeps notifying never needs Flush.
func Flush() {
	turns.enter()
	turns.exit()
}

// Pending returns the number of tasks waiting on the default scheduler.
func Pending() int {
	return turns.pending()
}

// Batch runs fn inside a turn. Work deferred on the default scheduler while
// fn runs, such as auto-dispose checks, waits until the outermost Batch
// returns.
//
// Example:
//
//	notify.Batch(func() {
//	    derived.RemoveListener(old)
//	    derived.AddListener(replacement)
//	})
//	// derived is still alive: the dispose check saw a listener
func Batch(fn func()) {
	turns.enter()
	defer turns.exit()
	fn()
}
