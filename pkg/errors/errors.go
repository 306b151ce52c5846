// Package errors provides structured error handling for main-thread dispatch.
//
// Three kinds of outcome are distinguished. An execution failure is an error
// returned (or a panic raised) by a dispatched function; it is captured into
// the call's future and surfaced when the caller reads the result. A
// programming error is misuse of the API, such as blocking the main thread on
// its own queued work or scheduling a second continuation for a section; it
// is reported at the call site. A timeout is not an error at all but the
// normal result of a bounded wait.
package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindExecution indicates a dispatched function returned an error.
	KindExecution
	// KindPanic indicates a recovered panic.
	KindPanic
	// KindProgramming indicates misuse of the API.
	KindProgramming
	// KindTimeout indicates a bounded wait elapsed.
	KindTimeout
	// KindConfig indicates an invalid configuration.
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindPanic:
		return "panic"
	case KindProgramming:
		return "programming"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Sentinel causes carried by ProgrammingError.
var (
	// ErrNotMainThread is the cause when a main-thread-only operation runs elsewhere.
	ErrNotMainThread = goerrors.New("not called from the main thread")

	// ErrMainThreadBlocked is the cause when the main thread would block on a
	// result that only the main thread itself can produce.
	ErrMainThreadBlocked = goerrors.New("main thread would block on its own queued call")

	// ErrContinuationPending is the cause when a continuation is scheduled while
	// another one has not resumed yet.
	ErrContinuationPending = goerrors.New("a continuation is already scheduled")

	// ErrWrapperClosed is the cause when a closed wrapper is invoked.
	ErrWrapperClosed = goerrors.New("wrapped callable is closed")

	// ErrAlreadyResolved is the cause when a future is written twice.
	ErrAlreadyResolved = goerrors.New("future already resolved")

	// ErrNestedDrain is the cause when a queued call tries to drain the queue
	// that is executing it.
	ErrNestedDrain = goerrors.New("queue is already being drained")

	// ErrNoDispatcher is the cause when no dispatcher has been registered.
	ErrNoDispatcher = goerrors.New("no main-thread dispatcher registered")
)

// DispatchError represents a failure reported by the dispatch machinery or
// by configuration loading.
type DispatchError struct {
	// Op is the operation that failed (e.g., "mainthread.Queue.DrainAll").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Seq is the enqueue sequence number of the call, if applicable.
	Seq uint64
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *DispatchError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("%s [%s] seq=%d: %v", e.Op, e.Kind, e.Seq, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "mainthread.Call").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error, so errors.Is
// and errors.As see through a recovered panic(err).
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ProgrammingError represents misuse of the API. It is distinct from
// failures of the dispatched code.
type ProgrammingError struct {
	// Op is the operation that was misused.
	Op string
	// Err is the cause, usually one of the Err* sentinels.
	Err error
	// StackTrace contains the call stack at the call site.
	StackTrace string
	// Timestamp is when the misuse was detected.
	Timestamp time.Time
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("programming error in %s: %v", e.Op, e.Err)
}

func (e *ProgrammingError) Unwrap() error {
	return e.Err
}

// NewProgrammingError builds a ProgrammingError with the caller's stack.
func NewProgrammingError(op string, cause error) *ProgrammingError {
	return &ProgrammingError{
		Op:         op,
		Err:        cause,
		StackTrace: CaptureStack(),
		Timestamp:  time.Now(),
	}
}

// IsProgrammingError reports whether err is or wraps a ProgrammingError.
func IsProgrammingError(err error) bool {
	var pe *ProgrammingError
	return goerrors.As(err, &pe)
}

// AsPanic extracts a recovered PanicError from err.
func AsPanic(err error) (*PanicError, bool) {
	var pe *PanicError
	if goerrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrorHandler receives errors reported by the dispatch machinery.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *DispatchError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
	// HandleProgrammingError is called when the API is misused.
	HandleProgrammingError(err *ProgrammingError)
}
