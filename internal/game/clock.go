package game

import "time"

// Clock supplies time to components that need testable time handling.
type Clock interface {
	Now() time.Time
	NowUnix() int64
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) Now() time.Time   { return time.Now() }
func (systemClock) NowUnix() int64   { return time.Now().Unix() }
func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// FrozenClock is a Clock fixed at a settable instant, for tests.
type FrozenClock struct {
	Instant time.Time
}

func (c *FrozenClock) Now() time.Time   { return c.Instant }
func (c *FrozenClock) NowUnix() int64   { return c.Instant.Unix() }
func (c *FrozenClock) NowMillis() int64 { return c.Instant.UnixMilli() }

// Advance moves the frozen clock forward by d.
func (c *FrozenClock) Advance(d time.Duration) {
	c.Instant = c.Instant.Add(d)
}
