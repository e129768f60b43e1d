package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock provides time operations that can be mocked for testing
type Clock interface {
	Now() time.Time

	// AfterFunc runs f in its own goroutine once d has elapsed.
	// The returned Timer can cancel the call before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// RealClock implements Clock using the system clock
type RealClock struct {
	inner clockwork.Clock
}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{inner: clockwork.NewRealClock()}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return c.inner.Now()
}

// AfterFunc schedules f to run after d
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.inner.AfterFunc(d, f)
}

// Clockwork exposes the underlying clock for libraries that accept one
func (c *RealClock) Clockwork() clockwork.Clock {
	return c.inner
}
