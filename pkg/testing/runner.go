package testing

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
	"github.com/go-drift/mainloop/pkg/platform"
	"github.com/go-drift/mainloop/pkg/thread"
)

const (
	// DefaultContinuationTimeout bounds how long the runner pumps the main
	// loop waiting for a continuation or an async test to finish.
	DefaultContinuationTimeout = 10 * time.Second
	// DefaultMaxRuns bounds section discovery for a single test case.
	DefaultMaxRuns = 1000
)

var (
	// ErrContinuationTimeout is recorded when a continuation does not finish
	// within the continuation timeout.
	ErrContinuationTimeout = goerrors.New("continuation did not finish before the timeout")

	// ErrAsyncTimeout is recorded when an async test is not ended within its
	// timeout.
	ErrAsyncTimeout = goerrors.New("async test was not ended before the timeout")

	// ErrMaxRuns is recorded when section discovery needs more runs than
	// allowed.
	ErrMaxRuns = goerrors.New("too many runs to cover all sections")
)

// Failure is a failed requirement, a panic, or a timeout, attributed to the
// section path that was active when it happened. The test case itself has
// the empty path.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) String() string {
	if f.Path == "" {
		return f.Err.Error()
	}
	return f.Path + ": " + f.Err.Error()
}

// Result summarizes one test case.
type Result struct {
	Name     string
	Runs     int
	Failures []Failure

	// Paths lists every leaf section path in discovery order.
	Paths    []string
	Duration time.Duration
}

// Passed reports whether the test case recorded no failures.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Err joins all failures into one error, or returns nil.
func (r *Result) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return goerrors.Join(errs...)
}

// Option configures a Runner.
type Option func(*Runner)

// WithContinuationTimeout sets how long the runner waits for a continuation
// before recording a failure.
func WithContinuationTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.continuationTimeout = d
	}
}

// WithMaxRuns bounds the number of runs of one test case.
func WithMaxRuns(n int) Option {
	return func(r *Runner) {
		r.maxRuns = n
	}
}

// WithLogger sets the runner's logger. The default is the dispatcher's.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// Runner executes test case bodies until every section has run, resuming
// scheduled continuations on the main thread or on a new goroutine.
// Run must be called from the dispatcher's main thread.
type Runner struct {
	d                   *mainthread.Dispatcher
	logger              *slog.Logger
	continuationTimeout time.Duration
	maxRuns             int
}

// NewRunner creates a runner that pumps d's main loop while waiting.
func NewRunner(d *mainthread.Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		d:                   d,
		continuationTimeout: DefaultContinuationTimeout,
		maxRuns:             DefaultMaxRuns,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = d.Logger()
	}
	if r.continuationTimeout <= 0 {
		r.continuationTimeout = DefaultContinuationTimeout
	}
	if r.maxRuns <= 0 {
		r.maxRuns = DefaultMaxRuns
	}
	return r
}

// NewRunnerWithT creates a runner with a dispatcher owned by the test
// goroutine. The dispatcher is registered with the platform package until
// the test finishes.
func NewRunnerWithT(t *testing.T, opts ...Option) *Runner {
	d := platform.SetupTestDispatch(t.Cleanup, mainthread.WithName(t.Name()))
	return NewRunner(d, opts...)
}

// RunT runs a test case and reports each failure through t.Errorf. A nil
// dispatcher means one is created for the test.
func RunT(t *testing.T, d *mainthread.Dispatcher, name string, body func(*S), opts ...Option) *Result {
	t.Helper()
	var r *Runner
	if d == nil {
		r = NewRunnerWithT(t, opts...)
	} else {
		r = NewRunner(d, opts...)
	}
	res := r.Run(name, body)
	for _, f := range res.Failures {
		t.Errorf("%s: %s", name, f)
	}
	return res
}

// Dispatcher returns the dispatcher whose loop the runner pumps.
func (r *Runner) Dispatcher() *mainthread.Dispatcher {
	return r.d
}

// Run executes body repeatedly until every discovered section has run. Each
// run enters at most one unfinished section per level. Pending continuations
// and async tests are resolved before the next run starts.
func (r *Runner) Run(name string, body func(*S)) *Result {
	start := time.Now()
	res := &Result{Name: name}
	tc := &testCase{r: r, root: newSection(name, nil), logger: r.logger.With("test", name)}

	if err := r.d.CheckInMainThread("testing.Runner.Run"); err != nil {
		res.Failures = []Failure{{Err: err}}
		return res
	}

	for !tc.complete() {
		if res.Runs >= r.maxRuns {
			tc.record(tc.root, fmt.Errorf("%w (%d)", ErrMaxRuns, r.maxRuns))
			break
		}
		res.Runs++
		if !tc.run(res.Runs, body) {
			break
		}
	}

	res.Failures = tc.takeFailures()
	res.Paths = tc.paths()
	res.Duration = time.Since(start)
	tc.logger.Debug("test case finished", "runs", res.Runs, "failures", len(res.Failures), "elapsed", res.Duration)
	return res
}

// abortRun unwinds the current body or continuation after a failure has
// been recorded.
type abortRun struct{}

// ContinuationMode selects where a continuation resumes.
type ContinuationMode int

const (
	// ModeMainThread resumes on the main thread through the dispatcher queue.
	ModeMainThread ContinuationMode = iota
	// ModeNewThread resumes on a new goroutine.
	ModeNewThread
)

type continuation struct {
	op   string
	mode ContinuationMode
	node *section
	fn   func(*S)
}

type asyncMarker struct {
	node    *section
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
}

func (m *asyncMarker) end() {
	m.once.Do(func() { close(m.done) })
}

// testCase is the state shared by all runs of one test case. mu guards the
// section tree as well as the fields below it, since a thread continuation
// changes the tree off the main goroutine.
type testCase struct {
	r      *Runner
	root   *section
	logger *slog.Logger
	runNo  int

	mu       sync.Mutex
	pending  *continuation
	markers  []*asyncMarker
	failures []Failure

	// stopped is set once a continuation timed out. A continuation still
	// running afterwards no longer changes the tree or records failures.
	stopped bool
}

func (tc *testCase) complete() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.root.complete()
}

func (tc *testCase) paths() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.root.leaves(nil)
}

func (tc *testCase) isStopped() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.stopped
}

// run performs one pass over the body and resolves its continuations and
// async markers. It returns false when the test case must stop.
func (tc *testCase) run(n int, body func(*S)) bool {
	tc.runNo = n
	tc.mu.Lock()
	tc.pending = nil
	tc.markers = nil
	tc.mu.Unlock()

	s := &S{tc: tc, cur: tc.root}
	tc.logger.Debug("run", "n", n)
	if !tc.guard(tc.root, func() { s.enter(tc.root, body) }) {
		tc.dropPending()
		return true
	}

	for {
		if k := tc.takePending(); k != nil {
			ok, stop := tc.resume(s, k)
			if stop {
				return false
			}
			if !ok {
				tc.dropPending()
				return true
			}
			continue
		}
		if m := tc.takeMarker(); m != nil {
			if !tc.await(m) {
				return false
			}
			continue
		}
		return true
	}
}

// guard runs fn and turns a panic into a recorded failure on n.
func (tc *testCase) guard(n *section, fn func()) (ok bool) {
	defer errors.RecoverWithCallback("testing.Section", func(pe *errors.PanicError) {
		tc.abort(n, pe)
		ok = false
	})
	fn()
	return true
}

// abort records pe as a failure of n unless it unwinds a failure that was
// already recorded, and returns the value to continue unwinding with.
func (tc *testCase) abort(n *section, pe *errors.PanicError) abortRun {
	if _, ok := pe.Value.(abortRun); !ok {
		tc.record(n, pe)
	}
	return abortRun{}
}

func (tc *testCase) record(n *section, err error) {
	f := Failure{Path: n.path(), Err: err}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.stopped {
		return
	}
	tc.failures = append(tc.failures, f)
	tc.logger.Debug("failure", "path", f.Path, "error", err)
}

// stop records err on n and ends the test case.
func (tc *testCase) stop(n *section, err error) {
	tc.record(n, err)
	tc.mu.Lock()
	tc.stopped = true
	tc.mu.Unlock()
}

func (tc *testCase) takeFailures() []Failure {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.failures
}

func (tc *testCase) takePending() *continuation {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	k := tc.pending
	tc.pending = nil
	return k
}

func (tc *testCase) dropPending() {
	if k := tc.takePending(); k != nil {
		tc.logger.Debug("continuation dropped", "path", k.node.path())
	}
}

func (tc *testCase) takeMarker() *asyncMarker {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.markers) == 0 {
		return nil
	}
	m := tc.markers[0]
	tc.markers = tc.markers[1:]
	return m
}

// resume runs a continuation in its captured section and pumps the main
// loop until it returns. ok is false when the continuation failed; stop is
// true when it could not be waited for.
func (tc *testCase) resume(s *S, k *continuation) (ok, stop bool) {
	tc.mu.Lock()
	k.node.state = Resumed
	tc.mu.Unlock()
	done := make(chan struct{})
	var passed bool
	body := func() {
		defer close(done)
		if tc.isStopped() {
			return
		}
		passed = tc.guard(k.node, func() { s.resumeIn(k.node, k.fn) })
	}

	var h *thread.Handle
	switch k.mode {
	case ModeNewThread:
		h = thread.Exec(body)
	default:
		mainthread.Async(tc.r.d, body)
	}

	if err := tc.wait(done, tc.r.continuationTimeout); err != nil {
		tc.stop(k.node, &errors.DispatchError{
			Op:        k.op,
			Kind:      timeoutKind(err),
			Err:       wrapTimeout(err, ErrContinuationTimeout),
			Timestamp: time.Now(),
		})
		return false, true
	}
	if h != nil {
		_ = h.Join()
	}
	return passed, false
}

func (tc *testCase) await(m *asyncMarker) bool {
	if err := tc.wait(m.done, m.timeout); err != nil {
		tc.record(m.node, &errors.DispatchError{
			Op:        "testing.S.MakeAsync",
			Kind:      timeoutKind(err),
			Err:       wrapTimeout(err, ErrAsyncTimeout),
			Timestamp: time.Now(),
		})
		return goerrors.Is(err, context.DeadlineExceeded)
	}
	return true
}

// wait pumps the main loop until done is closed or the timeout elapses.
func (tc *testCase) wait(done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = tc.r.continuationTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return tc.r.d.Loop().RunUntil(ctx, done)
}

func timeoutKind(err error) errors.ErrorKind {
	if goerrors.Is(err, context.DeadlineExceeded) {
		return errors.KindTimeout
	}
	return errors.KindExecution
}

func wrapTimeout(err, sentinel error) error {
	if goerrors.Is(err, context.DeadlineExceeded) {
		return sentinel
	}
	return err
}
