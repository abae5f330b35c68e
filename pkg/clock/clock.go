// Package clock provides an injectable time source so that polling and backoff
// logic can be driven without real sleeping.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock denotes a source of time and timers
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock
type System struct{}

// Now returns the current local time
func (System) Now() time.Time { return time.Now() }

// After waits for the duration to elapse and then sends the current time
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep pauses for d or until ctx is done, whichever happens first. It returns
// the context error if the sleep was interrupted
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

// Fake is a virtual clock: every call to After advances the virtual time by the
// requested duration and fires immediately. All requested durations are recorded.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, if set, is invoked (outside the lock) after each recorded sleep
	OnSleep func(d time.Duration)
}

// NewFake creates a Fake clock starting at the given time
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After advances the virtual time by d and returns an already fired channel
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	now := f.now
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the virtual time forward without recording a sleep
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps returns a copy of all durations passed to After
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
