// Package thread identifies goroutines and spawns worker goroutines.
//
// The main thread is whichever goroutine captured a Registry. Identity is a
// goroutine id read from the runtime's own stack header, which is only used
// for equality checks and diagnostics.
package thread

import (
	"runtime"
	"strconv"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
)

// ID identifies a goroutine. The zero ID never belongs to a live goroutine.
type ID uint64

func (id ID) String() string {
	return "goroutine " + strconv.FormatUint(uint64(id), 10)
}

// Current returns the ID of the calling goroutine.
func Current() ID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace starts with "goroutine NNN ["
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return ID(id)
}

// Registry records which goroutine is the main thread.
// It is immutable after CaptureMain and safe for concurrent use.
type Registry struct {
	main ID
}

// CaptureMain returns a Registry whose main thread is the calling goroutine.
func CaptureMain() *Registry {
	return &Registry{main: Current()}
}

// MainID returns the main thread's ID.
func (r *Registry) MainID() ID {
	return r.main
}

// IsCurrentMain reports whether the calling goroutine is the main thread.
func (r *Registry) IsCurrentMain() bool {
	return Current() == r.main
}

// CheckInMainThread returns a ProgrammingError when the calling goroutine is
// not the main thread.
func (r *Registry) CheckInMainThread(op string) error {
	if r.IsCurrentMain() {
		return nil
	}
	return errors.NewProgrammingError(op, errors.ErrNotMainThread)
}

// AssertInMainThread panics with a *errors.ProgrammingError when the calling
// goroutine is not the main thread.
func (r *Registry) AssertInMainThread(op string) {
	if err := r.CheckInMainThread(op); err != nil {
		panic(err)
	}
}

// Sleep pauses the calling goroutine.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
