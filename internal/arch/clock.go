package arch

import (
	"sync/atomic"
	"time"
)

// Clock is the monotonic time source consumed by thread sleep and the trace
// writer. Nanotime never goes backwards.
type Clock interface {
	Nanotime() int64
}

// MonotonicClock reads the Go runtime's monotonic clock, anchored at
// construction time.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock anchored at now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Nanotime returns nanoseconds elapsed since the clock was created.
func (c *MonotonicClock) Nanotime() int64 {
	return int64(time.Since(c.start))
}

// ManualClock is a test clock advanced explicitly.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a clock stopped at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Nanotime returns the current manual time.
func (c *ManualClock) Nanotime() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}
