// Package platform is the process-wide access point to the main-thread
// dispatcher for code that cannot have one injected, such as native view
// cores that must assert they run on the UI thread.
package platform

import (
	"sync"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
)

var (
	dispatchMu sync.RWMutex
	dispatcher *mainthread.Dispatcher
)

// Register sets the dispatcher used by Dispatch and the thread assertions and
// returns the previous one. This should be called once by the host during
// initialization; tests may swap it.
func Register(d *mainthread.Dispatcher) *mainthread.Dispatcher {
	dispatchMu.Lock()
	prev := dispatcher
	dispatcher = d
	dispatchMu.Unlock()
	if prev != nil && d != nil && prev != d {
		d.Logger().Warn("replacing registered dispatcher", "previous", prev.Name())
	}
	return prev
}

// Dispatcher returns the registered dispatcher, or nil.
func Dispatcher() *mainthread.Dispatcher {
	dispatchMu.RLock()
	defer dispatchMu.RUnlock()
	return dispatcher
}

// Dispatch schedules a callback to run on the main thread in its next drain
// cycle. Returns true if the callback was scheduled, false if no dispatcher is
// registered or the callback is nil.
func Dispatch(callback func()) bool {
	d := Dispatcher()
	if d == nil || callback == nil {
		return false
	}
	mainthread.Async(d, callback)
	return true
}

// IsMainThread reports whether the caller is the registered dispatcher's main
// thread. It is false when nothing is registered.
func IsMainThread() bool {
	d := Dispatcher()
	return d != nil && d.IsMainThread()
}

// AssertInMainThread panics with a *errors.ProgrammingError unless the caller
// is the main thread. Calling it with no dispatcher registered is a
// programming error as well.
func AssertInMainThread(op string) {
	d := Dispatcher()
	if d == nil {
		err := errors.NewProgrammingError(op, errors.ErrNoDispatcher)
		errors.ReportProgrammingError(err)
		panic(err)
	}
	d.AssertInMainThread(op)
}
