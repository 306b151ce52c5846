package mainthread

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	drifterrors "github.com/go-drift/mainloop/pkg/errors"
)

// Loop drains the dispatcher's queue on the main thread. Only one drain runs
// at a time: a queued call that pumps the loop gets a programming error.
type Loop struct {
	d        *Dispatcher
	running  atomic.Bool
	draining atomic.Bool
}

// acquire claims the drain for op on the main thread.
func (l *Loop) acquire(op string) error {
	if err := l.d.CheckInMainThread(op); err != nil {
		return err
	}
	if !l.draining.CompareAndSwap(false, true) {
		err := drifterrors.NewProgrammingError(op, drifterrors.ErrNestedDrain)
		l.d.reportProgramming(err)
		return err
	}
	return nil
}

// Run drains queued calls as they arrive until ctx is done, and returns
// ctx.Err(). It must be called on the main thread.
func (l *Loop) Run(ctx context.Context) error {
	return l.RunUntil(ctx, nil)
}

// RunUntil is Run that also returns nil, after a final drain, once done is
// closed. A nil done never closes.
func (l *Loop) RunUntil(ctx context.Context, done <-chan struct{}) error {
	if err := l.d.CheckInMainThread("mainthread.Loop.Run"); err != nil {
		return err
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.running.Store(false)
	if err := l.acquire("mainthread.Loop.Run"); err != nil {
		return err
	}
	defer l.draining.Store(false)

	if l.d.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.d.logger.Debug("main loop started", "main", l.d.MainID())
	defer l.d.logger.Debug("main loop stopped")

	for {
		l.d.queue.DrainAll()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			l.d.queue.DrainAll()
			return nil
		case <-l.d.queue.Wake():
		}
	}
}

// IsRunning reports whether Run is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Pump runs one drain cycle without blocking. Host event loops call it once
// per iteration. It must be called on the main thread.
func (l *Loop) Pump() (int, error) {
	if err := l.acquire("mainthread.Loop.Pump"); err != nil {
		return 0, err
	}
	defer l.draining.Store(false)
	return l.d.queue.DrainAll(), nil
}

// DrainOne runs the oldest queued call, if any. It must be called on the main
// thread.
func (l *Loop) DrainOne() (bool, error) {
	if err := l.acquire("mainthread.Loop.DrainOne"); err != nil {
		return false, err
	}
	defer l.draining.Store(false)
	return l.d.queue.DrainOne(), nil
}

// PumpFor drains calls as they arrive for the given duration and returns how
// many ran. It must be called on the main thread.
func (l *Loop) PumpFor(d time.Duration) (int, error) {
	if err := l.acquire("mainthread.Loop.PumpFor"); err != nil {
		return 0, err
	}
	defer l.draining.Store(false)
	timer := time.NewTimer(d)
	defer timer.Stop()
	n := 0
	for {
		n += l.d.queue.DrainAll()
		select {
		case <-timer.C:
			return n + l.d.queue.DrainAll(), nil
		case <-l.d.queue.Wake():
		}
	}
}
