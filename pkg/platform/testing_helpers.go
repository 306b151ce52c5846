package platform

import (
	"github.com/go-drift/mainloop/pkg/mainthread"
)

// SetupTestDispatch registers a dispatcher whose main thread is the calling
// goroutine and returns it. The cleanup function should be testing.T.Cleanup
// or equivalent; it restores the previously registered dispatcher.
//
//	d := platform.SetupTestDispatch(t.Cleanup)
func SetupTestDispatch(cleanup func(func()), opts ...mainthread.Option) *mainthread.Dispatcher {
	opts = append([]mainthread.Option{mainthread.WithName("test"), mainthread.WithLockOSThread(false)}, opts...)
	d := mainthread.New(opts...)
	prev := Register(d)
	cleanup(func() { Register(prev) })
	return d
}
