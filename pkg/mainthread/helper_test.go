package mainthread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/thread"
)

// recordingHandler collects everything reported to it.
type recordingHandler struct {
	mu          sync.Mutex
	errs        []*errors.DispatchError
	panics      []*errors.PanicError
	programming []*errors.ProgrammingError
}

func (h *recordingHandler) HandleError(err *errors.DispatchError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) HandlePanic(err *errors.PanicError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, err)
}

func (h *recordingHandler) HandleProgrammingError(err *errors.ProgrammingError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programming = append(h.programming, err)
}

func (h *recordingHandler) counts() (errs, panics, programming int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs), len(h.panics), len(h.programming)
}

// newTestDispatcher returns a dispatcher whose main thread is the test
// goroutine, without OS thread locking.
func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{}
	return New(WithName(t.Name()), WithLockOSThread(false), WithErrorHandler(h)), h
}

// runWhile pumps the main loop until the worker goroutine returns, then
// reports the worker's panic, if any.
func runWhile(t *testing.T, d *Dispatcher, worker *thread.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Loop().RunUntil(ctx, worker.Done()); err != nil {
		t.Fatalf("RunUntil() = %v", err)
	}
	if err := worker.Join(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
