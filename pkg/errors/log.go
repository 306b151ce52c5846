package errors

import (
	"log/slog"
)

// LogHandler is an ErrorHandler that writes structured records to a slog.Logger.
type LogHandler struct {
	// Logger receives the records. Nil uses slog.Default().
	Logger *slog.Logger
	// Verbose adds stack traces to the records.
	Verbose bool
}

func (h *LogHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// HandleError logs a DispatchError.
func (h *LogHandler) HandleError(err *DispatchError) {
	if err == nil {
		return
	}
	attrs := []any{"op", err.Op, "kind", err.Kind.String(), "error", err.Err}
	if err.Seq != 0 {
		attrs = append(attrs, "seq", err.Seq)
	}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, "stack", err.StackTrace)
	}
	h.logger().Error("dispatch error", attrs...)
}

// HandlePanic logs a PanicError.
func (h *LogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	attrs := []any{"op", err.Op, "value", err.Value}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, "stack", err.StackTrace)
	}
	h.logger().Error("recovered panic", attrs...)
}

// HandleProgrammingError logs a ProgrammingError.
func (h *LogHandler) HandleProgrammingError(err *ProgrammingError) {
	if err == nil {
		return
	}
	attrs := []any{"op", err.Op, "error", err.Err}
	if h.Verbose && err.StackTrace != "" {
		attrs = append(attrs, "stack", err.StackTrace)
	}
	h.logger().Error("programming error", attrs...)
}
