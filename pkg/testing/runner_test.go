package testing

import (
	goerrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
	"github.com/go-drift/mainloop/pkg/thread"
)

type recordingHandler struct {
	mu          sync.Mutex
	panics      int
	programming []*errors.ProgrammingError
}

func (h *recordingHandler) HandleError(*errors.DispatchError) {}

func (h *recordingHandler) HandlePanic(*errors.PanicError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics++
}

func (h *recordingHandler) HandleProgrammingError(err *errors.ProgrammingError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programming = append(h.programming, err)
}

func (h *recordingHandler) programmingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.programming)
}

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{}
	d := mainthread.New(mainthread.WithName(t.Name()), mainthread.WithLockOSThread(false), mainthread.WithErrorHandler(h))
	return NewRunner(d, opts...), h
}

// scheduler abstracts over the two continuation modes. Each variant checks
// the thread its continuation runs on before calling fn.
type scheduler struct {
	name     string
	schedule func(s *S, fn func(*S)) error
}

var schedulers = []scheduler{
	{
		name: "ContinueAsync",
		schedule: func(s *S, fn func(*S)) error {
			return s.ContinueAsync(func(s *S) {
				s.Require(s.Dispatcher().IsMainThread(), "async continuation off the main thread")
				fn(s)
			})
		},
	},
	{
		name: "ContinueInThread",
		schedule: func(s *S, fn func(*S)) error {
			return s.ContinueInThread(func(s *S) {
				s.Require(!s.Dispatcher().IsMainThread(), "thread continuation on the main thread")
				fn(s)
			})
		},
	},
}

func TestContinueSection(t *testing.T) {
	for _, sc := range schedulers {
		t.Run(sc.name, func(t *testing.T) {
			var calledBeforeNextSection *atomic.Int32
			var mask atomic.Int32

			res := RunT(t, nil, sc.name, func(s *S) {
				callCount := new(atomic.Int32)
				inc := func(*S) { callCount.Add(1) }

				s.Section("notCalledImmediately", func(s *S) {
					s.RequireNoError(sc.schedule(s, inc))
					s.Require(callCount.Load() == 0, "continuation ran immediately")
				})

				s.Section("notCalledBeforeExitingInitialFunction", func(s *S) {
					s.RequireNoError(sc.schedule(s, inc))
					thread.Sleep(50 * time.Millisecond)
					s.Require(callCount.Load() == 0, "continuation ran before the body returned")
				})

				s.Section("calledBeforeNextSection-a", func(s *S) {
					calledBeforeNextSection = callCount
					s.RequireNoError(sc.schedule(s, inc))
				})

				s.Section("calledBeforeNextSection-b", func(s *S) {
					s.Require(calledBeforeNextSection != nil)
					s.Require(calledBeforeNextSection.Load() == 1, "got %d calls", calledBeforeNextSection.Load())
				})

				s.Section("notCalledMultipleTimes", func(s *S) {
					s.RequireNoError(sc.schedule(s, func(s *S) {
						s.Require(callCount.Add(1) == 1)
					}))
				})

				s.Section("subSectionInContinuation-a", func(s *S) {
					s.RequireNoError(sc.schedule(s, func(s *S) {
						mask.Store(mask.Load() | 1)
						s.Section("a", func(s *S) {
							s.Section("a1", func(*S) { mask.Store(mask.Load() | 2) })
							s.Section("a2", func(*S) { mask.Store(mask.Load() | 4) })
						})
						s.Section("b", func(s *S) {
							s.RequireNoError(sc.schedule(s, func(s *S) {
								mask.Store(mask.Load() | 8)
								s.Section("b1", func(*S) { mask.Store(mask.Load() | 16) })
								s.Section("b2", func(*S) { mask.Store(mask.Load() | 32) })
							}))
						})
					}))
				})

				s.Section("subSectionInContinuation-b", func(s *S) {
					s.Require(mask.Load() == 63, "mask = %d", mask.Load())
				})
			})

			want := []string{
				"notCalledImmediately",
				"notCalledBeforeExitingInitialFunction",
				"calledBeforeNextSection-a",
				"calledBeforeNextSection-b",
				"notCalledMultipleTimes",
				"subSectionInContinuation-a/a/a1",
				"subSectionInContinuation-a/a/a2",
				"subSectionInContinuation-a/b/b1",
				"subSectionInContinuation-a/b/b2",
				"subSectionInContinuation-b",
			}
			if strings.Join(res.Paths, ",") != strings.Join(want, ",") {
				t.Errorf("Paths = %v, want %v", res.Paths, want)
			}
			// Five leaf sections plus four passes through subSectionInContinuation-a
			// and one for subSectionInContinuation-b.
			if res.Runs != 10 {
				t.Errorf("Runs = %d, want 10", res.Runs)
			}
		})
	}
}

func TestContinueSectionExpectedFailures(t *testing.T) {
	for _, sc := range schedulers {
		t.Run(sc.name, func(t *testing.T) {
			r, _ := newTestRunner(t)
			var ranAfterFailure atomic.Bool

			res := r.Run(sc.name, func(s *S) {
				s.Section("exceptionInContinuation", func(s *S) {
					_ = sc.schedule(s, func(*S) { panic(goerrors.New("dummy error")) })
				})
				s.Section("exceptionAfterContinuationScheduled", func(s *S) {
					_ = sc.schedule(s, func(*S) { ranAfterFailure.Store(true) })
					panic("dummy error")
				})
				s.Section("failAfterContinuationScheduled", func(s *S) {
					_ = sc.schedule(s, func(*S) { ranAfterFailure.Store(true) })
					s.Require(false)
				})
			})

			if res.Passed() {
				t.Fatal("expected failures")
			}
			wantPaths := []string{
				"exceptionInContinuation",
				"exceptionAfterContinuationScheduled",
				"failAfterContinuationScheduled",
			}
			if len(res.Failures) != len(wantPaths) {
				t.Fatalf("Failures = %v, want %d", res.Failures, len(wantPaths))
			}
			for i, f := range res.Failures {
				if f.Path != wantPaths[i] {
					t.Errorf("Failures[%d].Path = %q, want %q", i, f.Path, wantPaths[i])
				}
			}
			if _, ok := errors.AsPanic(res.Failures[0].Err); !ok {
				t.Errorf("continuation panic recorded as %T", res.Failures[0].Err)
			}
			if ranAfterFailure.Load() {
				t.Error("a continuation ran after its section failed")
			}
			if res.Runs != 3 {
				t.Errorf("Runs = %d, want 3", res.Runs)
			}
		})
	}
}

func TestContinueAfterSectionThatHadContinuation(t *testing.T) {
	for _, sc := range schedulers {
		t.Run(sc.name, func(t *testing.T) {
			r, h := newTestRunner(t)
			var children []string
			continuation := func(s *S) {
				s.Section("asyncChild1", func(s *S) { children = append(children, s.Path()) })
				s.Section("asyncChild2", func(s *S) { children = append(children, s.Path()) })
			}

			res := r.Run(sc.name, func(s *S) {
				enteredSection := false
				s.Section("initialChild", func(s *S) {
					enteredSection = true
					s.RequireNoError(sc.schedule(s, func(*S) {}))
					s.Require(s.ContinuationState() == ContinuationScheduled)
				})
				if enteredSection {
					s.RequireProgrammingError(sc.schedule(s, continuation))
				} else {
					s.RequireNoError(sc.schedule(s, continuation))
				}
			})

			if !res.Passed() {
				t.Fatalf("Failures = %v", res.Failures)
			}
			if res.Runs != 1 || len(children) != 0 {
				t.Errorf("Runs = %d, children = %v", res.Runs, children)
			}
			if h.programmingCount() != 1 {
				t.Errorf("reported programming errors = %d, want 1", h.programmingCount())
			}
			pe := h.programming[0]
			if !goerrors.Is(pe, errors.ErrContinuationPending) {
				t.Errorf("reported %v, want ErrContinuationPending", pe)
			}
		})
	}
}

func TestContinuationAtTestCaseLevel(t *testing.T) {
	r, _ := newTestRunner(t)
	var order []string
	res := r.Run("root", func(s *S) {
		order = append(order, "body")
		if err := s.ContinueAsync(func(s *S) {
			s.Section("asyncChild1", func(s *S) { order = append(order, s.Path()) })
			s.Section("asyncChild2", func(s *S) { order = append(order, s.Path()) })
		}); err != nil {
			s.Fail(err.Error())
		}
	})
	if !res.Passed() {
		t.Fatalf("Failures = %v", res.Failures)
	}
	want := "body,asyncChild1,body,asyncChild2"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestContinuationStateTransitions(t *testing.T) {
	for _, sc := range schedulers {
		t.Run(sc.name, func(t *testing.T) {
			r, _ := newTestRunner(t)
			var states []ContinuationState
			res := r.Run("states", func(s *S) {
				s.Section("only", func(s *S) {
					states = append(states, s.ContinuationState())
					_ = sc.schedule(s, func(s *S) {
						states = append(states, s.ContinuationState())
					})
					states = append(states, s.ContinuationState())
				})
			})
			if !res.Passed() {
				t.Fatalf("Failures = %v", res.Failures)
			}
			want := []ContinuationState{NoContinuation, ContinuationScheduled, Resumed}
			if len(states) != len(want) {
				t.Fatalf("states = %v, want %v", states, want)
			}
			for i := range want {
				if states[i] != want[i] {
					t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
				}
			}
		})
	}
}

func TestMakeAsync(t *testing.T) {
	r, _ := newTestRunner(t)
	var ended bool
	res := r.Run("async", func(s *S) {
		end := s.MakeAsync(time.Second)
		thread.Exec(func() {
			mainthread.Async(s.Dispatcher(), func() {
				ended = true
				end()
				end()
			})
		})
	})
	if !res.Passed() || !ended {
		t.Errorf("Passed() = %v, ended = %v, failures = %v", res.Passed(), ended, res.Failures)
	}
}

func TestMakeAsyncTimeout(t *testing.T) {
	r, _ := newTestRunner(t)
	res := r.Run("async", func(s *S) {
		s.Section("never ends", func(s *S) {
			s.MakeAsync(20 * time.Millisecond)
		})
	})
	if len(res.Failures) != 1 {
		t.Fatalf("Failures = %v, want 1", res.Failures)
	}
	f := res.Failures[0]
	if f.Path != "never ends" || !goerrors.Is(f.Err, ErrAsyncTimeout) {
		t.Errorf("failure = %s", f)
	}
}

func TestContinuationTimeout(t *testing.T) {
	r, _ := newTestRunner(t, WithContinuationTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	res := r.Run("slow", func(s *S) {
		s.Section("blocked", func(s *S) {
			_ = s.ContinueInThread(func(*S) { <-release })
		})
		s.Section("never reached", func(*S) {})
	})
	if len(res.Failures) != 1 || !goerrors.Is(res.Failures[0].Err, ErrContinuationTimeout) {
		t.Fatalf("Failures = %v", res.Failures)
	}
	var de *errors.DispatchError
	if !goerrors.As(res.Failures[0].Err, &de) || de.Kind != errors.KindTimeout {
		t.Errorf("failure = %#v, want a timeout DispatchError", res.Failures[0].Err)
	}
	if res.Runs != 1 {
		t.Errorf("Runs = %d, want the test case to stop after a timeout", res.Runs)
	}
}

func TestTimedOutContinuationCannotChangeResult(t *testing.T) {
	r, h := newTestRunner(t, WithContinuationTimeout(20*time.Millisecond))
	finished := make(chan struct{})
	var lateRan atomic.Bool
	var lateSchedule error

	res := r.Run("late", func(s *S) {
		s.Section("slow", func(s *S) {
			_ = s.ContinueInThread(func(s *S) {
				defer close(finished)
				thread.Sleep(60 * time.Millisecond)
				s.Section("opened after timeout", func(*S) { lateRan.Store(true) })
				s.Errorf("recorded after timeout")
				lateSchedule = s.ContinueAsync(nil)
			})
		})
	})
	paths := strings.Join(res.Paths, ",")
	failures := len(res.Failures)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("continuation never finished")
	}
	if lateRan.Load() {
		t.Error("section opened after the timeout ran")
	}
	if lateSchedule != nil || h.programmingCount() != 0 {
		t.Errorf("late ContinueAsync = %v, reported %d", lateSchedule, h.programmingCount())
	}
	if paths != "slow" || strings.Join(res.Paths, ",") != paths {
		t.Errorf("Paths = %v, want [slow]", res.Paths)
	}
	if failures != 1 || len(res.Failures) != 1 || !goerrors.Is(res.Failures[0].Err, ErrContinuationTimeout) {
		t.Errorf("Failures = %v, want only the timeout", res.Failures)
	}
}

func TestExpectProgrammingError(t *testing.T) {
	r, _ := newTestRunner(t)
	var got []bool
	res := r.Run("expect", func(s *S) {
		d := s.Dispatcher()
		s.Section("off main", func(s *S) {
			h := thread.Exec(func() {
				got = append(got, s.ExpectProgrammingError(func() { d.AssertInMainThread("view.Layout") }))
			})
			s.RequireNoError(h.Join())
		})
		s.Section("no panic", func(s *S) {
			got = append(got, s.ExpectProgrammingError(func() {}))
		})
		s.Section("other panic", func(s *S) {
			got = append(got, s.ExpectProgrammingError(func() { panic("boom") }))
		})
	})
	if len(got) != 3 || !got[0] || got[1] || got[2] {
		t.Errorf("results = %v, want [true false false]", got)
	}
	if len(res.Failures) != 2 {
		t.Errorf("Failures = %v, want 2", res.Failures)
	}
}

func TestFailureHelpers(t *testing.T) {
	r, _ := newTestRunner(t)
	var afterErrorf, afterFail bool
	res := r.Run("helpers", func(s *S) {
		s.Section("errorf", func(s *S) {
			s.Errorf("value was %d", 3)
			afterErrorf = true
		})
		s.Section("check", func(s *S) {
			s.Check(1+1 == 3, "math")
		})
		s.Section("fail", func(s *S) {
			s.Fail("stop here")
			afterFail = true
		})
		s.Section("passes", func(s *S) {
			s.Require(true)
		})
	})
	if !afterErrorf || afterFail {
		t.Errorf("afterErrorf = %v, afterFail = %v", afterErrorf, afterFail)
	}
	msgs := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		msgs = append(msgs, f.String())
	}
	want := "errorf: value was 3|check: math|fail: stop here"
	if got := strings.Join(msgs, "|"); got != want {
		t.Errorf("failures = %q, want %q", got, want)
	}
	if res.Err() == nil {
		t.Error("Err() = nil with failures recorded")
	}
}

func TestRunOffMainThread(t *testing.T) {
	r, h := newTestRunner(t)
	var res *Result
	worker := thread.Exec(func() { res = r.Run("off main", func(*S) {}) })
	if err := worker.Join(); err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || !errors.IsProgrammingError(res.Failures[0].Err) {
		t.Errorf("Failures = %v, want one programming error", res.Failures)
	}
	if h.programmingCount() != 1 {
		t.Errorf("reported programming errors = %d, want 1", h.programmingCount())
	}
}

func TestMaxRuns(t *testing.T) {
	r, _ := newTestRunner(t, WithMaxRuns(2))
	res := r.Run("many", func(s *S) {
		for _, name := range []string{"a", "b", "c"} {
			s.Section(name, func(*S) {})
		}
	})
	if res.Runs != 2 {
		t.Errorf("Runs = %d, want 2", res.Runs)
	}
	if len(res.Failures) != 1 || !goerrors.Is(res.Failures[0].Err, ErrMaxRuns) {
		t.Errorf("Failures = %v", res.Failures)
	}
}
