package cmd

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	drifterrors "github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
	"github.com/go-drift/mainloop/pkg/platform"
	"github.com/go-drift/mainloop/pkg/thread"
)

func init() {
	RegisterCommand(&Command{
		Name:  "run",
		Short: "Drive the main loop from worker goroutines",
		Long: `Start a main loop and let worker goroutines call into it.

Each worker issues a mix of synchronous calls, calls with an argument,
fire-and-forget calls and calls through a wrapped function. A frame
callback is dispatched every pump interval while the workers run. When
all workers finish, the dispatch counters are printed.

Flags:
  --workers N    Number of worker goroutines (default from config)
  --calls N      Calls per worker (default from config)`,
		Usage: "mainloop run [--workers N] [--calls N]",
		Run:   runRun,
	})
}

type runOptions struct {
	workers int
	calls   int
}

// errRejected is returned by the validating call for every third argument.
var errRejected = goerrors.New("rejected")

func runRun(args []string) error {
	opts, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.calls > 0 {
		cfg.Calls = opts.calls
	}

	logger := newLogger(stderr, cfg)
	d := newDispatcher(cfg, logger)
	prev := platform.Register(d)
	defer platform.Register(prev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := drive(ctx, d, cfg.Workers, cfg.Calls, cfg.PumpInterval)
	if err != nil {
		return err
	}
	report.print()
	return nil
}

func parseRunArgs(args []string) (runOptions, error) {
	opts := runOptions{}
	for i := 0; i < len(args); i++ {
		var target *int
		switch args[i] {
		case "--workers":
			target = &opts.workers
		case "--calls":
			target = &opts.calls
		default:
			return opts, fmt.Errorf("unknown flag %q\n\nUsage: mainloop run [--workers N] [--calls N]", args[i])
		}
		if i+1 >= len(args) {
			return opts, fmt.Errorf("%s requires a number", args[i])
		}
		n, err := strconv.Atoi(args[i+1])
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("%s requires a positive number, got %q", args[i], args[i+1])
		}
		*target = n
		i++
	}
	return opts, nil
}

type runReport struct {
	dispatcher string
	workers    int
	calls      int
	counter    int
	squares    int64
	rejected   int64
	frames     int
	released   bool
	stats      mainthread.Stats
	elapsed    time.Duration
}

// drive runs workers goroutines against d while pumping its loop on the
// calling goroutine, which must be d's main thread.
func drive(ctx context.Context, d *mainthread.Dispatcher, workers, calls int, interval time.Duration) (*runReport, error) {
	sw := thread.NewStopWatch()
	logger := d.Logger()

	// counter and frames are only touched on the main thread.
	var counter, frames int
	var squares, rejected atomic.Int64

	square := mainthread.Wrap(d, func(n int) (int, error) {
		platform.AssertInMainThread("run.square")
		return n * n, nil
	})
	square.OnRelease(func() { logger.Debug("square wrapper released") })

	validate := func(n int) (int, error) {
		if n%3 == 0 {
			return 0, errRejected
		}
		counter++
		return counter, nil
	}

	handles := make([]*thread.Handle, workers)
	for w := range handles {
		handles[w] = thread.Exec(func() {
			for i := 0; i < calls; i++ {
				switch i % 4 {
				case 0:
					if _, err := mainthread.Call(d, func() (int, error) {
						counter++
						return counter, nil
					}).Get(); err != nil {
						panic(err)
					}
				case 1:
					if _, err := mainthread.CallWith(d, validate, i).Get(); goerrors.Is(err, errRejected) {
						rejected.Add(1)
					} else if err != nil {
						panic(err)
					}
				case 2:
					mainthread.Async(d, func() { counter++ })
				case 3:
					v, err := square.Call(i).Get()
					if err != nil {
						panic(err)
					}
					squares.Add(int64(v))
				}
			}
		})
	}

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for _, h := range handles {
			<-h.Done()
		}
	}()

	go func() {
		defer drifterrors.RecoverTo(d.ErrorHandler(), "run.frames")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-allDone:
				return
			case <-ticker.C:
				platform.Dispatch(func() { frames++ })
			}
		}
	}()

	if err := d.Loop().RunUntil(ctx, allDone); err != nil {
		return nil, err
	}
	square.Close()

	for w, h := range handles {
		if err := h.Join(); err != nil {
			return nil, fmt.Errorf("worker %d: %w", w, err)
		}
	}

	report := &runReport{
		dispatcher: d.Name(),
		workers:    workers,
		calls:      calls,
		counter:    counter,
		squares:    squares.Load(),
		rejected:   rejected.Load(),
		frames:     frames,
		stats:      d.Stats(),
		elapsed:    sw.Elapsed(),
	}
	select {
	case <-square.Released():
		report.released = true
	default:
	}
	logger.Info("run finished", "workers", workers, "calls", workers*calls, "elapsed", report.elapsed)
	return report, nil
}

func (r *runReport) print() {
	fmt.Fprintf(stdout, "Dispatcher: %s\n", r.dispatcher)
	fmt.Fprintf(stdout, "Workers:    %d x %d calls\n", r.workers, r.calls)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %-10s %d\n", "counter", r.counter)
	fmt.Fprintf(stdout, "  %-10s %d\n", "squares", r.squares)
	fmt.Fprintf(stdout, "  %-10s %d\n", "rejected", r.rejected)
	fmt.Fprintf(stdout, "  %-10s %d\n", "frames", r.frames)
	fmt.Fprintf(stdout, "  %-10s %v\n", "released", r.released)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %-10s %d\n", "enqueued", r.stats.Enqueued)
	fmt.Fprintf(stdout, "  %-10s %d\n", "executed", r.stats.Executed)
	fmt.Fprintf(stdout, "  %-10s %d\n", "immediate", r.stats.Immediate)
	fmt.Fprintf(stdout, "  %-10s %d\n", "failed", r.stats.Failed)
	fmt.Fprintf(stdout, "  %-10s %d\n", "panicked", r.stats.Panicked)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Elapsed: %s\n", r.elapsed.Round(time.Millisecond))
}
