package thread

import (
	"context"

	"github.com/go-drift/mainloop/pkg/errors"
)

// Handle tracks a goroutine started by Exec.
type Handle struct {
	id   chan ID
	done chan struct{}
	err  *errors.PanicError
}

// Exec runs fn on a new goroutine. A panic in fn is recovered and kept on the
// handle instead of crashing the process.
func Exec(fn func()) *Handle {
	h := &Handle{
		id:   make(chan ID, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer errors.RecoverWithCallback("thread.Exec", func(pe *errors.PanicError) {
			h.err = pe
		})
		h.id <- Current()
		fn()
	}()
	return h
}

// ID returns the goroutine's ID, waiting for it to start if necessary.
func (h *Handle) ID() ID {
	id := <-h.id
	h.id <- id
	return id
}

// Done is closed when the goroutine returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join waits for the goroutine to return and reports its recovered panic,
// if any.
func (h *Handle) Join() error {
	<-h.done
	if h.err != nil {
		return h.err
	}
	return nil
}

// JoinContext is Join bounded by ctx.
func (h *Handle) JoinContext(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Join()
	case <-ctx.Done():
		return ctx.Err()
	}
}
