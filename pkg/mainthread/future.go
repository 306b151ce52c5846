package mainthread

import (
	"context"
	"sync"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/thread"
)

// WaitStatus is the outcome of Future.Wait.
type WaitStatus int

const (
	// WaitReady means the future holds a value or a failure.
	WaitReady WaitStatus = iota
	// WaitTimeout means the timeout elapsed first.
	WaitTimeout
	// WaitWouldBlockMain means the caller is the main thread and the future
	// can only be resolved by that same thread; nothing was waited for.
	WaitWouldBlockMain
)

func (s WaitStatus) String() string {
	switch s {
	case WaitReady:
		return "ready"
	case WaitTimeout:
		return "timeout"
	case WaitWouldBlockMain:
		return "would-block-main"
	default:
		return "unknown"
	}
}

// Future carries the outcome of a dispatched call. It is written once, by the
// goroutine that ran the call, and may be read by any number of goroutines.
type Future[T any] struct {
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	value    T
	err      error

	// owner is the registry of the thread that will resolve this future; nil
	// when it was resolved on creation.
	owner   *thread.Registry
	handler errors.ErrorHandler
}

func newFuture[T any](owner *thread.Registry, handler errors.ErrorHandler) *Future[T] {
	return &Future[T]{
		done:    make(chan struct{}),
		owner:   owner,
		handler: handler,
	}
}

// Resolved returns a future that already holds v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T](nil, nil)
	f.resolve(v, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T](nil, nil)
	var zero T
	f.resolve(zero, err)
	return f
}

// complete stores the outcome. It reports false, without changing anything,
// when the future was already written.
func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	if err != nil {
		var zero T
		v = zero
	}
	f.value, f.err = v, err
	close(f.done)
	return true
}

// resolve is complete for writers that must be the only one. A second write
// panics with a *errors.ProgrammingError.
func (f *Future[T]) resolve(v T, err error) {
	if !f.complete(v, err) {
		panic(errors.NewProgrammingError("mainthread.Future.resolve", errors.ErrAlreadyResolved))
	}
}

// Done is closed once the future is ready.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future holds a value or a failure.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is ready or timeout elapses. A timeout of zero
// or less only polls.
func (f *Future[T]) Wait(timeout time.Duration) WaitStatus {
	if f.Ready() {
		return WaitReady
	}
	if timeout <= 0 {
		return WaitTimeout
	}
	if f.blocksMain() {
		f.reportBlocked("mainthread.Future.Wait")
		return WaitWouldBlockMain
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return WaitReady
	case <-timer.C:
		return WaitTimeout
	}
}

// WaitContext blocks until the future is ready or ctx is done.
func (f *Future[T]) WaitContext(ctx context.Context) error {
	if f.Ready() {
		return nil
	}
	if f.blocksMain() {
		return f.reportBlocked("mainthread.Future.WaitContext")
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits for the future and returns its value or its failure.
func (f *Future[T]) Get() (T, error) {
	if !f.Ready() {
		if f.blocksMain() {
			var zero T
			return zero, f.reportBlocked("mainthread.Future.Get")
		}
		<-f.done
	}
	return f.value, f.err
}

// MustGet is like Get but panics on failure. A recovered panic is re-raised
// with its original value.
func (f *Future[T]) MustGet() T {
	v, err := f.Get()
	if err != nil {
		if pe, ok := err.(*errors.PanicError); ok {
			panic(pe.Value)
		}
		panic(err)
	}
	return v
}

func (f *Future[T]) blocksMain() bool {
	return f.owner != nil && f.owner.IsCurrentMain()
}

func (f *Future[T]) reportBlocked(op string) error {
	err := errors.NewProgrammingError(op, errors.ErrMainThreadBlocked)
	errors.ReportProgrammingErrorTo(f.handler, err)
	return err
}
