package thread

import "time"

// StopWatch measures elapsed wall-clock time from its last start.
type StopWatch struct {
	start time.Time
}

// NewStopWatch returns a started StopWatch.
func NewStopWatch() *StopWatch {
	return &StopWatch{start: time.Now()}
}

// Start restarts the measurement.
func (w *StopWatch) Start() {
	w.start = time.Now()
}

// Elapsed returns the time since the last start.
func (w *StopWatch) Elapsed() time.Duration {
	return time.Since(w.start)
}

// Millis returns Elapsed in whole milliseconds.
func (w *StopWatch) Millis() int64 {
	return w.Elapsed().Milliseconds()
}
