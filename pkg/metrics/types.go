package metrics

import "time"

// Stats is a snapshot of writer telemetry
type Stats struct {
	// Buffered is the number of points waiting for the next flush
	Buffered int
	// Flushes counts completed flushes, failed ones included
	Flushes int
	// FailedFlushes counts flushes whose backend write returned an error
	FailedFlushes int
	// InFlight is true while a flush is running
	InFlight bool
	// LastFlush is the duration of the most recent flush, -1 before the first one
	LastFlush time.Duration
	// AvgFlush is an exponentially weighted moving average (0.9 history, 0.1 sample)
	AvgFlush time.Duration
}

// Config configures a Writer
type Config struct {
	// LowWatermark triggers an asynchronous flush once exceeded
	LowWatermark int
	// HighWatermark blocks the producer until buffered data is committed once exceeded
	HighWatermark int
	// Hooks run on the flush goroutine after each successful commit
	Hooks []FlushHook
}

const (
	DefaultLowWatermark  = 64
	DefaultHighWatermark = 256
)
