package mainthread

import (
	"sync"

	"github.com/go-drift/mainloop/pkg/errors"
)

// Wrapper is a reusable callable bound to one function. Every Call is
// dispatched like the package-level Call and gets its own Future.
//
// The wrapper holds the bound function until it is closed and no invocation
// is pending; then the function is dropped and the release hooks run once.
type Wrapper[A, R any] struct {
	d *Dispatcher

	mu        sync.Mutex
	fn        func(A) (R, error)
	pending   int
	closed    bool
	released  chan struct{}
	onRelease []func()
}

// Wrap binds fn for repeated main-thread dispatch.
func Wrap[A, R any](d *Dispatcher, fn func(A) (R, error)) *Wrapper[A, R] {
	return &Wrapper[A, R]{
		d:        d,
		fn:       fn,
		released: make(chan struct{}),
	}
}

// Call dispatches the bound function with arg. On a closed wrapper it returns
// a future failed with a programming error.
func (w *Wrapper[A, R]) Call(arg A) *Future[R] {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		err := errors.NewProgrammingError("mainthread.Wrapper.Call", errors.ErrWrapperClosed)
		errors.ReportProgrammingErrorTo(w.d.handler, err)
		return Failed[R](err)
	}
	fn := w.fn
	w.pending++
	w.mu.Unlock()

	return call(w.d, "mainthread.Wrapper.Call", func() (R, error) {
		defer w.finish()
		return fn(arg)
	})
}

// Func returns Call as a plain function value.
func (w *Wrapper[A, R]) Func() func(A) *Future[R] {
	return w.Call
}

// Pending returns the number of invocations that have not run yet.
func (w *Wrapper[A, R]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// OnRelease registers fn to run when the wrapper is released. If it already
// was, fn runs immediately.
func (w *Wrapper[A, R]) OnRelease(fn func()) {
	w.mu.Lock()
	select {
	case <-w.released:
		w.mu.Unlock()
		fn()
		return
	default:
	}
	w.onRelease = append(w.onRelease, fn)
	w.mu.Unlock()
}

// Released is closed once the wrapper is closed and idle.
func (w *Wrapper[A, R]) Released() <-chan struct{} {
	return w.released
}

// Close stops accepting invocations. Pending invocations still run; the bound
// function is dropped after the last one.
func (w *Wrapper[A, R]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	hooks := w.releaseLocked()
	w.mu.Unlock()
	runHooks(hooks)
}

func (w *Wrapper[A, R]) finish() {
	w.mu.Lock()
	w.pending--
	hooks := w.releaseLocked()
	w.mu.Unlock()
	runHooks(hooks)
}

func (w *Wrapper[A, R]) releaseLocked() []func() {
	if !w.closed || w.pending > 0 {
		return nil
	}
	select {
	case <-w.released:
		return nil
	default:
	}
	w.fn = nil
	close(w.released)
	hooks := w.onRelease
	w.onRelease = nil
	return hooks
}

func runHooks(hooks []func()) {
	for _, h := range hooks {
		h()
	}
}
