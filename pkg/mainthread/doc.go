// Package mainthread runs functions on a designated main goroutine.
//
// A [Dispatcher] captures the goroutine that creates it as the main thread.
// Work submitted from other goroutines is appended to a FIFO queue that only
// the main thread drains, either by running [Loop.Run] or by calling
// [Loop.Pump] from a host event loop once per frame.
//
// # Dispatch
//
//   - [Call] runs fn in place when invoked on the main thread and returns an
//     already resolved [Future]. From any other goroutine it enqueues fn and
//     returns a pending Future without waiting; fn never runs on the caller.
//   - [Async] always enqueues, even on the main thread, so fn runs in the next
//     drain cycle.
//   - [Wrap] binds fn once and returns a [Wrapper] whose every invocation is
//     dispatched like Call and yields its own Future.
//
// # Failures
//
// An error returned by fn is stored in the Future unchanged, so errors.Is and
// errors.As work on the value returned by [Future.Get]. A panic is recovered
// on the executing goroutine and stored as *errors.PanicError; [Future.MustGet]
// re-panics with the original value.
//
// # Deadlock guard
//
// Only the main thread resolves queued calls, so the main thread must never
// block on a pending Future. [Future.Get] and [Future.WaitContext] return a
// programming error in that case and [Future.Wait] returns
// [WaitWouldBlockMain] instead of hanging.
//
// # Usage
//
//	d := mainthread.New()
//	go func() {
//	    f := mainthread.CallWith(d, double, 42)
//	    v, err := f.Get() // 84, nil once the main thread has drained it
//	    ...
//	}()
//	_ = d.Loop().Run(ctx)
package mainthread
