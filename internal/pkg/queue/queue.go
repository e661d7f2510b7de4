// Package queue provides the strictly serial dispatch queues the tracker runs
// on: one for state mutation and one for network calls. Tasks on a queue
// execute one at a time in submission order, which makes sequence-number
// assignment and session transitions race-free without per-field locking.
package queue

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Serial is an unbounded FIFO queue backed by a single worker goroutine.
// Dispatch never blocks the caller, so tasks may safely re-submit to their
// own queue.
type Serial struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	worker  atomic.Int64
	drained chan struct{}
}

// NewSerial starts the worker goroutine and returns the queue.
func NewSerial(name string) *Serial {
	q := &Serial{name: name, drained: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Name returns the queue's name, used in log attributes.
func (q *Serial) Name() string { return q.name }

func (q *Serial) run() {
	q.worker.Store(goroutineID())
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			close(q.drained)
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// Dispatch enqueues a task without blocking. Tasks submitted after Close are
// dropped.
func (q *Serial) Dispatch(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// DispatchSync runs the task and waits for it to complete. When the caller is
// already executing on this queue the task runs inline, so a task can never
// deadlock by synchronously re-entering its own queue.
func (q *Serial) DispatchSync(task func()) {
	if q.OnQueue() {
		task()
		return
	}

	done := make(chan struct{})
	if !q.Dispatch(func() {
		defer close(done)
		task()
	}) {
		return
	}
	<-done
}

// DispatchAfter enqueues the task once the delay elapses. The returned timer
// can be stopped to cancel a not-yet-fired dispatch.
func (q *Serial) DispatchAfter(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		q.Dispatch(task)
	})
}

// OnQueue reports whether the calling goroutine is the queue worker.
func (q *Serial) OnQueue() bool {
	return goroutineID() == q.worker.Load()
}

// Close stops accepting tasks, drains the backlog, and waits for the worker
// to exit.
func (q *Serial) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Signal()
	<-q.drained
}

// goroutineID parses the current goroutine's id out of the first line of its
// stack trace ("goroutine N [running]:"). The runtime offers no public API
// for this; the parse is the standard workaround.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	id, err := strconv.ParseInt(header[:strings.IndexByte(header, ' ')], 10, 64)
	if err != nil {
		return -1
	}
	return id
}
