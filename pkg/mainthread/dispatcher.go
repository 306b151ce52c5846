package mainthread

import (
	"errors"
	"log/slog"
	"sync/atomic"

	drifterrors "github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/thread"
)

// ErrLoopAlreadyRunning is returned when Run is called while the loop runs.
var ErrLoopAlreadyRunning = errors.New("mainthread: loop is already running")

// Dispatcher is the process-scoped context for main-thread dispatch: the main
// thread's identity, its work queue and its drain loop.
type Dispatcher struct {
	name     string
	registry *thread.Registry
	queue    *Queue
	loop     *Loop
	logger   *slog.Logger
	handler  drifterrors.ErrorHandler

	lockOSThread bool

	immediate atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithName labels the dispatcher in log records.
func WithName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.name = name
		}
	}
}

// WithLogger sets the logger. Unless WithErrorHandler is also given, errors
// are reported through an errors.LogHandler on this logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithErrorHandler sets where recovered panics and programming errors are
// reported. The default is the global handler.
func WithErrorHandler(h drifterrors.ErrorHandler) Option {
	return func(d *Dispatcher) {
		d.handler = h
	}
}

// WithLockOSThread controls whether Loop.Run locks the main goroutine to its
// OS thread while running. Enabled by default.
func WithLockOSThread(lock bool) Option {
	return func(d *Dispatcher) {
		d.lockOSThread = lock
	}
}

// New creates a dispatcher whose main thread is the calling goroutine.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:         "main",
		registry:     thread.CaptureMain(),
		lockOSThread: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	} else if d.handler == nil {
		d.handler = &drifterrors.LogHandler{Logger: d.logger}
	}
	d.logger = d.logger.With("dispatcher", d.name)
	d.queue = NewQueue(d.handler)
	d.loop = &Loop{d: d}
	return d
}

// Name returns the dispatcher's label.
func (d *Dispatcher) Name() string {
	return d.name
}

// MainID returns the main thread's identity.
func (d *Dispatcher) MainID() thread.ID {
	return d.registry.MainID()
}

// Registry returns the main thread identity registry.
func (d *Dispatcher) Registry() *thread.Registry {
	return d.registry
}

// IsMainThread reports whether the caller is the main thread.
func (d *Dispatcher) IsMainThread() bool {
	return d.registry.IsCurrentMain()
}

// CheckInMainThread returns a programming error, and reports it, when the
// caller is not the main thread.
func (d *Dispatcher) CheckInMainThread(op string) error {
	err := d.registry.CheckInMainThread(op)
	if err != nil {
		d.reportProgramming(err)
	}
	return err
}

// AssertInMainThread panics with a *errors.ProgrammingError when the caller
// is not the main thread.
func (d *Dispatcher) AssertInMainThread(op string) {
	if err := d.CheckInMainThread(op); err != nil {
		panic(err)
	}
}

// Loop returns the dispatcher's drain loop.
func (d *Dispatcher) Loop() *Loop {
	return d.loop
}

// Pending returns the number of queued calls.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger {
	return d.logger
}

// ErrorHandler returns the configured handler, nil meaning the global one.
func (d *Dispatcher) ErrorHandler() drifterrors.ErrorHandler {
	return d.handler
}

func (d *Dispatcher) reportProgramming(err error) {
	var pe *drifterrors.ProgrammingError
	if errors.As(err, &pe) {
		drifterrors.ReportProgrammingErrorTo(d.handler, pe)
	}
}

// Stats returns dispatch counters. Values are read without a common lock and
// may be slightly inconsistent while calls are in flight.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.queue.enqueued.Load(),
		Executed:  d.queue.executed.Load(),
		Immediate: d.immediate.Load(),
		Failed:    d.failed.Load(),
		Panicked:  d.panicked.Load() + d.queue.panicked.Load(),
		Pending:   d.queue.Len(),
	}
}

// Stats contains dispatch counters.
type Stats struct {
	// Enqueued is the number of calls added to the queue.
	Enqueued uint64

	// Executed is the number of queued calls that ran.
	Executed uint64

	// Immediate is the number of calls run in place on the main thread.
	Immediate uint64

	// Failed is the number of calls whose function returned an error.
	Failed uint64

	// Panicked is the number of calls whose function panicked.
	Panicked uint64

	// Pending is the number of calls waiting in the queue.
	Pending int
}
