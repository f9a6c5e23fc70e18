package config

import "time"

// Clock abstracts the time source so the scheduler's backoff arithmetic can
// be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a settable Clock for tests.
type FakeClock struct {
	Current time.Time
}

// Now returns the fixed current time.
func (f *FakeClock) Now() time.Time { return f.Current }

// Advance moves the fake clock forward.
func (f *FakeClock) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
