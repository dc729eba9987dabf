// Package timer provides the monotonic time source used for syscall
// timestamps and task accounting.
package timer

import (
	"sync/atomic"
	"time"
)

// Clock reads a monotonic counter.
type Clock interface {
	Microseconds() uint64
	Milliseconds() uint64
}

// Monotonic counts time elapsed since it was created.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a clock that starts at zero now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Microseconds implements Clock.
func (c *Monotonic) Microseconds() uint64 {
	return uint64(time.Since(c.start) / time.Microsecond)
}

// Milliseconds implements Clock.
func (c *Monotonic) Milliseconds() uint64 {
	return uint64(time.Since(c.start) / time.Millisecond)
}

// Manual is a clock that only moves when told to.
type Manual struct {
	us atomic.Uint64
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.us.Add(uint64(d / time.Microsecond))
}

// Microseconds implements Clock.
func (c *Manual) Microseconds() uint64 { return c.us.Load() }

// Milliseconds implements Clock.
func (c *Manual) Milliseconds() uint64 { return c.us.Load() / 1000 }
