package mainthread

import "github.com/go-drift/mainloop/pkg/errors"

// Call runs fn on the main thread. On the main thread fn runs before Call
// returns and the future is already resolved; elsewhere fn is queued and the
// returned future is pending.
func Call[R any](d *Dispatcher, fn func() (R, error)) *Future[R] {
	return call(d, "mainthread.Call", fn)
}

// CallWith is Call with one bound argument.
func CallWith[A, R any](d *Dispatcher, fn func(A) (R, error), arg A) *Future[R] {
	return call(d, "mainthread.CallWith", func() (R, error) {
		return fn(arg)
	})
}

// Async queues fn for the main thread, even when called on the main thread.
// Nothing about the outcome is returned; a panic in fn is reported to the
// dispatcher's error handler.
func Async(d *Dispatcher, fn func()) {
	d.queue.Enqueue("mainthread.Async", fn)
}

// AsyncWith is Async with one bound argument.
func AsyncWith[A any](d *Dispatcher, fn func(A), arg A) {
	d.queue.Enqueue("mainthread.AsyncWith", func() {
		fn(arg)
	})
}

func call[R any](d *Dispatcher, op string, fn func() (R, error)) *Future[R] {
	if d.IsMainThread() {
		d.immediate.Add(1)
		f := newFuture[R](nil, d.handler)
		invoke(d, f, op, fn)
		return f
	}
	f := newFuture[R](d.registry, d.handler)
	d.queue.Enqueue(op, func() {
		invoke(d, f, op, fn)
	})
	return f
}

// invoke runs fn and stores its outcome in f. Nothing escapes to the
// executing goroutine.
func invoke[R any](d *Dispatcher, f *Future[R], op string, fn func() (R, error)) {
	var (
		v   R
		err error
	)
	func() {
		defer errors.RecoverWithCallback(op, func(pe *errors.PanicError) {
			d.panicked.Add(1)
			err = pe
		})
		v, err = fn()
		if err != nil {
			d.failed.Add(1)
		}
	}()
	f.resolve(v, err)
}
