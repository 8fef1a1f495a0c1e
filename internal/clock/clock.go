package clock

import "time"

// Clock provides high-resolution time for metering.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
	NowNanos() int64
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
// The wall clock carries a monotonic reading, so differences between
// successive calls never go backwards.
func (RealClock) Now() time.Time {
	return time.Now()
}

// NowNanos returns the current time as nanoseconds since the Unix epoch.
func (c RealClock) NowNanos() int64 {
	return c.Now().UnixNano()
}

// TestClock provides controllable time for testing.
type TestClock struct {
	CurrentTime time.Time
}

// NewTestClock creates a TestClock starting at the given time.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{CurrentTime: start}
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// NowNanos returns the test time as nanoseconds since the Unix epoch.
func (t *TestClock) NowNanos() int64 {
	return t.CurrentTime.UnixNano()
}

// Advance moves the test clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}
