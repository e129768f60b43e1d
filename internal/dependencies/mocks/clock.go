package mocks

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcoot/playhub/internal/dependencies/clock"
)

// MockClock is a controllable Clock for testing. Timers created through
// AfterFunc fire when Advance moves the clock past their deadline.
type MockClock struct {
	fake *clockwork.FakeClock
}

// Ensure MockClock implements Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock set to the given time
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{fake: clockwork.NewFakeClockAt(t)}
}

// Now returns the mocked current time
func (c *MockClock) Now() time.Time {
	return c.fake.Now()
}

// AfterFunc registers f to run once the clock is advanced past d
func (c *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.fake.AfterFunc(d, f)
}

// Advance moves the clock forward by the given duration, firing due timers
func (c *MockClock) Advance(d time.Duration) {
	c.fake.Advance(d)
}

// Set moves the clock to the given time. Moving backwards is not supported.
func (c *MockClock) Set(t time.Time) {
	if d := t.Sub(c.fake.Now()); d > 0 {
		c.fake.Advance(d)
	}
}

// Clockwork exposes the fake clock for libraries that accept one
func (c *MockClock) Clockwork() clockwork.Clock {
	return c.fake
}
