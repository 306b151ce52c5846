package cmd

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-drift/mainloop/cmd/mainloop/internal/config"
	"github.com/go-drift/mainloop/pkg/mainthread"
	"github.com/go-drift/mainloop/pkg/platform"
	mltest "github.com/go-drift/mainloop/pkg/testing"
)

func init() {
	RegisterCommand(&Command{
		Name:  "sections",
		Short: "Run the built-in continuation test tree",
		Long: `Run a small section test case that continues sections on the main
thread and on worker goroutines, and print every section path that ran.

The command exits with an error if any section fails.`,
		Usage: "mainloop sections",
		Run:   runSections,
	})
}

func runSections(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("sections takes no arguments, got %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(stderr, cfg)
	d := newDispatcher(cfg, logger)
	prev := platform.Register(d)
	defer platform.Register(prev)

	res := runBuiltinSections(d, cfg)
	printResult(res)
	if !res.Passed() {
		return fmt.Errorf("%d section failure(s)", len(res.Failures))
	}
	return nil
}

func runBuiltinSections(d *mainthread.Dispatcher, cfg *config.Resolved) *mltest.Result {
	r := mltest.NewRunner(d,
		mltest.WithContinuationTimeout(cfg.ContinuationTimeout),
		mltest.WithMaxRuns(cfg.MaxRuns),
		mltest.WithLogger(d.Logger()),
	)
	return r.Run("continuations", builtinSections)
}

// builtinSections exercises both continuation modes against the dispatcher
// registered with the platform package.
func builtinSections(s *mltest.S) {
	d := s.Dispatcher()

	s.Section("async", func(s *mltest.S) {
		var resumed atomic.Bool
		s.RequireNoError(s.ContinueAsync(func(s *mltest.S) {
			resumed.Store(true)
			s.Require(platform.IsMainThread(), "async continuation off the main thread")

			s.Section("nested call runs in place", func(s *mltest.S) {
				v, err := mainthread.Call(d, func() (string, error) { return "main", nil }).Get()
				s.RequireNoError(err)
				s.Require(v == "main")
			})
			s.Section("async is deferred", func(s *mltest.S) {
				ran := false
				mainthread.Async(d, func() { ran = true })
				s.Require(!ran, "async call ran synchronously")
				end := s.MakeAsync(time.Second)
				mainthread.Async(d, end)
			})
		}))
		s.Require(!resumed.Load(), "continuation ran before the section returned")
	})

	s.Section("thread", func(s *mltest.S) {
		s.RequireNoError(s.ContinueInThread(func(s *mltest.S) {
			s.Require(!platform.IsMainThread(), "thread continuation on the main thread")

			s.Section("call waits for main", func(s *mltest.S) {
				v, err := mainthread.CallWith(d, func(n int) (int, error) {
					platform.AssertInMainThread("sections.double")
					return n * 2, nil
				}, 21).Get()
				s.RequireNoError(err)
				s.Require(v == 42, "got %d", v)
			})
			s.Section("wrapped function", func(s *mltest.S) {
				w := mainthread.Wrap(d, func(name string) (string, error) {
					return "hello " + name, nil
				})
				v, err := w.Call("main").Get()
				w.Close()
				s.RequireNoError(err)
				s.Require(v == "hello main", "got %q", v)
				<-w.Released()
			})
		}))
	})
}

func printResult(res *mltest.Result) {
	fmt.Fprintf(stdout, "Test case: %s (%d runs, %s)\n", res.Name, res.Runs, res.Duration.Round(time.Millisecond))
	fmt.Fprintln(stdout)
	for _, p := range res.Paths {
		fmt.Fprintf(stdout, "  ran   %s\n", p)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(stdout, "  FAIL  %s\n", f)
	}
	fmt.Fprintln(stdout)
	if res.Passed() {
		fmt.Fprintln(stdout, "PASS")
	} else {
		fmt.Fprintf(stdout, "FAIL (%d failures)\n", len(res.Failures))
	}
}
