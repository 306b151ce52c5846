package errors

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultHandler is the global error handler.
	// It defaults to LogHandler with verbose=false.
	DefaultHandler ErrorHandler = &LogHandler{}

	handlerMu sync.RWMutex
)

// SetHandler configures the global error handler and returns the previous one.
// Pass nil to restore the default LogHandler.
func SetHandler(h ErrorHandler) ErrorHandler {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	prev := DefaultHandler
	if h == nil {
		DefaultHandler = &LogHandler{}
	} else {
		DefaultHandler = h
	}
	return prev
}

// Handler returns the current global error handler.
func Handler() ErrorHandler {
	handlerMu.RLock()
	defer handlerMu.RUnlock()
	return DefaultHandler
}

// Report sends an error to the global handler.
// If err.Timestamp is zero, it is set to the current time.
func Report(err *DispatchError) {
	ReportTo(nil, err)
}

// ReportTo sends an error to h, or to the global handler when h is nil.
func ReportTo(h ErrorHandler, err *DispatchError) {
	if err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	if h == nil {
		h = Handler()
	}
	if h != nil {
		h.HandleError(err)
	}
}

// ReportPanicTo sends a panic error to h, or to the global handler when h is nil.
func ReportPanicTo(h ErrorHandler, err *PanicError) {
	if err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	if h == nil {
		h = Handler()
	}
	if h != nil {
		h.HandlePanic(err)
	}
}

// ReportProgrammingError sends a programming error to the global handler.
func ReportProgrammingError(err *ProgrammingError) {
	ReportProgrammingErrorTo(nil, err)
}

// ReportProgrammingErrorTo sends a programming error to h, or to the global
// handler when h is nil.
func ReportProgrammingErrorTo(h ErrorHandler, err *ProgrammingError) {
	if err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	if h == nil {
		h = Handler()
	}
	if h != nil {
		h.HandleProgrammingError(err)
	}
}

// RecoverTo is a helper for deferred panic recovery. The panic is reported
// to h, or to the global handler when h is nil.
// Usage: defer errors.RecoverTo(h, "operation.name")
func RecoverTo(h ErrorHandler, op string) {
	if r := recover(); r != nil {
		ReportPanicTo(h, &PanicError{
			Op:         op,
			Value:      r,
			StackTrace: CaptureStack(),
			Timestamp:  time.Now(),
		})
	}
}

// RecoverWithCallback is like RecoverTo but hands the panic to callback
// instead of reporting it.
func RecoverWithCallback(op string, callback func(*PanicError)) {
	if r := recover(); r != nil {
		callback(&PanicError{
			Op:         op,
			Value:      r,
			StackTrace: CaptureStack(),
			Timestamp:  time.Now(),
		})
	}
}

// CaptureStack returns the current call stack as a string.
// It skips the first few frames to exclude the CaptureStack call itself.
func CaptureStack() string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		sb.WriteString(frame.Function)
		sb.WriteString("\n\t")
		sb.WriteString(frame.File)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteString("\n")
		if !more {
			break
		}
	}
	return sb.String()
}
