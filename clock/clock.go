// Package clock abstracts sleeping and wall-clock time so that retry backoff
// and timeouts can be driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Sleeper suspends the caller for a duration. Sleep returns ctx.Err() if the
// context is cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimeSource reports the current time.
type TimeSource interface {
	Now() time.Time
}

// TimeSourceFunc adapts a function to the TimeSource interface.
type TimeSourceFunc func() time.Time

// Now calls f.
func (f TimeSourceFunc) Now() time.Time { return f() }

type systemSleeper struct{}

// SystemSleeper returns a Sleeper backed by a runtime timer.
func SystemSleeper() Sleeper { return systemSleeper{} }

func (systemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemTime returns a TimeSource backed by time.Now.
func SystemTime() TimeSource { return TimeSourceFunc(time.Now) }

// ManualTimeSource is a TimeSource that only moves when told to.
type ManualTimeSource struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualTimeSource returns a ManualTimeSource starting at start.
func NewManualTimeSource(start time.Time) *ManualTimeSource {
	return &ManualTimeSource{now: start}
}

// Now returns the current manual time.
func (m *ManualTimeSource) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *ManualTimeSource) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// InstantSleep returns immediately from every Sleep, advancing its time
// source by the requested amount and remembering every duration.
type InstantSleep struct {
	mu     sync.Mutex
	time   *ManualTimeSource
	sleeps []time.Duration
}

// NewInstantSleep returns an InstantSleep paired with a ManualTimeSource
// starting at start.
func NewInstantSleep(start time.Time) (*InstantSleep, *ManualTimeSource) {
	ts := NewManualTimeSource(start)
	return &InstantSleep{time: ts}, ts
}

// Sleep records d and advances the paired time source.
func (s *InstantSleep) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	s.time.Advance(d)
	return nil
}

// Logs returns a copy of every duration slept so far.
func (s *InstantSleep) Logs() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.sleeps))
	copy(out, s.sleeps)
	return out
}

// Total returns the sum of every duration slept so far.
func (s *InstantSleep) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Logs() {
		total += d
	}
	return total
}

// NeverSleep blocks until the context is cancelled.
func NeverSleep() Sleeper {
	return SleeperFunc(func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	})
}
