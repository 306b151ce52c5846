package mainthread

import (
	"sync"
	"sync/atomic"

	"github.com/go-drift/mainloop/pkg/errors"
)

// QueuedCall is a unit of deferred work.
type QueuedCall struct {
	// Seq is the enqueue order, starting at 1.
	Seq uint64
	// Op labels the call in diagnostics.
	Op string

	run func()
}

// Queue is an unbounded FIFO of calls. Enqueue is safe from any goroutine;
// draining must be done by one goroutine at a time.
type Queue struct {
	mu    sync.Mutex
	calls []QueuedCall
	seq   uint64
	wake  chan struct{}

	handler errors.ErrorHandler

	enqueued atomic.Uint64
	executed atomic.Uint64
	panicked atomic.Uint64
}

// NewQueue creates an empty queue. Panics escaping a call are reported to
// handler, or to the global handler when handler is nil.
func NewQueue(handler errors.ErrorHandler) *Queue {
	return &Queue{
		wake:    make(chan struct{}, 1),
		handler: handler,
	}
}

// Enqueue appends a call and returns its sequence number. It never waits for
// execution.
func (q *Queue) Enqueue(op string, run func()) uint64 {
	if run == nil {
		return 0
	}
	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.calls = append(q.calls, QueuedCall{Seq: seq, Op: op, run: run})
	q.mu.Unlock()
	q.enqueued.Add(1)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return seq
}

// Wake receives a value after calls were enqueued. Signals are coalesced.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of calls waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// DrainOne runs the oldest call, if any, and reports whether one ran.
func (q *Queue) DrainOne() bool {
	q.mu.Lock()
	if len(q.calls) == 0 {
		q.mu.Unlock()
		return false
	}
	c := q.calls[0]
	q.calls[0] = QueuedCall{}
	q.calls = q.calls[1:]
	q.mu.Unlock()

	q.execute(c)
	return true
}

// DrainAll runs every call that was queued when it started, in enqueue order,
// and returns how many ran. Calls enqueued meanwhile wait for the next drain.
func (q *Queue) DrainAll() int {
	q.mu.Lock()
	calls := q.calls
	q.calls = nil
	q.mu.Unlock()

	for i := range calls {
		q.execute(calls[i])
		calls[i] = QueuedCall{}
	}
	return len(calls)
}

func (q *Queue) execute(c QueuedCall) {
	defer q.executed.Add(1)
	defer errors.RecoverWithCallback(c.Op, func(pe *errors.PanicError) {
		q.panicked.Add(1)
		errors.ReportTo(q.handler, &errors.DispatchError{
			Op:         "mainthread.Queue.execute",
			Kind:       errors.KindPanic,
			Err:        pe,
			Seq:        c.Seq,
			StackTrace: pe.StackTrace,
		})
	})
	c.run()
}
