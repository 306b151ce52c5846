package testing

import (
	"fmt"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
)

// S is passed to a test case body, its sections, and its continuations.
// It tracks the current section and records failures against it.
type S struct {
	tc  *testCase
	cur *section
}

// Dispatcher returns the dispatcher the runner pumps.
func (s *S) Dispatcher() *mainthread.Dispatcher {
	return s.tc.r.d
}

// Path returns the current section path, empty for the test case body.
func (s *S) Path() string {
	return s.cur.path()
}

// Run returns the one-based number of the current run.
func (s *S) Run() int {
	return s.tc.runNo
}

// ContinuationState returns the continuation state of the current section
// in this run.
func (s *S) ContinuationState() ContinuationState {
	s.tc.mu.Lock()
	defer s.tc.mu.Unlock()
	return s.cur.state
}

// Section runs fn as a named child of the current section if it is selected
// for this run, and reports whether it ran. A section is selected when it
// has not completed yet and no sibling was entered earlier in the run.
// Once the test case stopped after a continuation timeout, Section never
// runs fn.
func (s *S) Section(name string, fn func(*S)) bool {
	tc := s.tc
	parent := s.cur
	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return false
	}
	child := parent.child(name)
	if child.complete() || parent.entered == tc.runNo {
		tc.mu.Unlock()
		return false
	}
	parent.entered = tc.runNo
	tc.mu.Unlock()
	s.enter(child, fn)
	return true
}

func (s *S) enter(n *section, fn func(*S)) {
	tc := s.tc
	parent := s.cur
	s.cur = n
	tc.mu.Lock()
	n.state = NoContinuation
	tc.mu.Unlock()
	defer func() {
		tc.mu.Lock()
		n.ran = true
		tc.mu.Unlock()
		s.cur = parent
	}()
	defer errors.RecoverWithCallback("testing.Section", func(pe *errors.PanicError) {
		panic(tc.abort(n, pe))
	})
	fn(s)
}

// resumeIn runs a continuation with n as the current section, so the
// sections it opens become children of n.
func (s *S) resumeIn(n *section, fn func(*S)) {
	parent := s.cur
	s.cur = n
	defer func() { s.cur = parent }()
	defer errors.RecoverWithCallback("testing.Section", func(pe *errors.PanicError) {
		panic(s.tc.abort(n, pe))
	})
	fn(s)
}

// ContinueAsync schedules fn to continue the current section on the main
// thread once the current body and the test case body have returned. Only
// one continuation may be pending per run; scheduling another returns a
// *errors.ProgrammingError.
func (s *S) ContinueAsync(fn func(*S)) error {
	return s.schedule("testing.S.ContinueAsync", ModeMainThread, fn)
}

// ContinueInThread is like ContinueAsync but runs fn on a new goroutine. The
// runner keeps pumping the main loop while it runs.
func (s *S) ContinueInThread(fn func(*S)) error {
	return s.schedule("testing.S.ContinueInThread", ModeNewThread, fn)
}

func (s *S) schedule(op string, mode ContinuationMode, fn func(*S)) error {
	if fn == nil {
		fn = func(*S) {}
	}
	tc := s.tc
	tc.mu.Lock()
	if tc.stopped {
		tc.mu.Unlock()
		return nil
	}
	if tc.pending != nil {
		tc.mu.Unlock()
		err := errors.NewProgrammingError(op, errors.ErrContinuationPending)
		errors.ReportProgrammingErrorTo(tc.r.d.ErrorHandler(), err)
		return err
	}
	s.cur.state = ContinuationScheduled
	tc.pending = &continuation{op: op, mode: mode, node: s.cur, fn: fn}
	tc.mu.Unlock()
	return nil
}

// MakeAsync marks the current run as asynchronous and returns the function
// that ends it. After the body and its continuations returned, the runner
// pumps the main loop until the returned function is called or the timeout
// elapses. The function may be called from any goroutine, more than once.
func (s *S) MakeAsync(timeout time.Duration) func() {
	m := &asyncMarker{node: s.cur, timeout: timeout, done: make(chan struct{})}
	s.tc.mu.Lock()
	s.tc.markers = append(s.tc.markers, m)
	s.tc.mu.Unlock()
	return m.end
}

// Errorf records a failure and continues.
func (s *S) Errorf(format string, args ...any) {
	s.tc.record(s.cur, fmt.Errorf(format, args...))
}

// Fail records a failure and stops the current body or continuation.
func (s *S) Fail(msg string) {
	s.failNow(fmt.Errorf("%s", msg))
}

// Check records a failure unless cond holds, and continues either way.
func (s *S) Check(cond bool, msgAndArgs ...any) bool {
	if !cond {
		s.tc.record(s.cur, fmt.Errorf("%s", message("check failed", msgAndArgs)))
	}
	return cond
}

// Require stops the current body or continuation with a failure unless cond
// holds. msgAndArgs is an optional format string and its arguments.
func (s *S) Require(cond bool, msgAndArgs ...any) {
	if !cond {
		s.failNow(fmt.Errorf("%s", message("requirement failed", msgAndArgs)))
	}
}

// RequireNoError stops with a failure if err is not nil.
func (s *S) RequireNoError(err error) {
	if err != nil {
		s.failNow(fmt.Errorf("unexpected error: %w", err))
	}
}

// RequireProgrammingError stops with a failure unless err is a
// *errors.ProgrammingError.
func (s *S) RequireProgrammingError(err error) {
	if !errors.IsProgrammingError(err) {
		s.failNow(fmt.Errorf("expected a programming error, got %v", err))
	}
}

// ExpectProgrammingError runs fn and reports whether it panicked with a
// *errors.ProgrammingError. Anything else is recorded as a failure.
func (s *S) ExpectProgrammingError(fn func()) (ok bool) {
	defer func() {
		v := recover()
		if v == nil {
			if !ok {
				s.tc.record(s.cur, fmt.Errorf("expected a programming error, got none"))
			}
			return
		}
		if _, aborted := v.(abortRun); aborted {
			panic(v)
		}
		if err, isErr := v.(error); isErr && errors.IsProgrammingError(err) {
			ok = true
			return
		}
		s.tc.record(s.cur, fmt.Errorf("expected a programming error, got panic: %v", v))
	}()
	fn()
	return false
}

func (s *S) failNow(err error) {
	s.tc.record(s.cur, err)
	panic(abortRun{})
}

func message(fallback string, msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return fallback
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
