// Package clock provides Clock and Sleeper implementations.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/poolgate/ports"
)

// Real returns the actual current time and sleeps on real timers.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ensure interface compliance.
var (
	_ ports.Clock   = Real{}
	_ ports.Sleeper = Real{}
)

// Fake provides a controllable clock for testing.
// Sleep never blocks: it records the duration and advances the clock.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
	sleeps  []time.Duration
	onSleep func(time.Duration)
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// OnSleep registers a hook run on every Sleep, before ctx is checked.
// Tests use it to cancel a context mid-backoff.
func (f *Fake) OnSleep(fn func(time.Duration)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSleep = fn
}

// Sleep records d, advances the clock and returns ctx.Err().
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	hook := f.onSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return nil
}

// Sleeps returns every duration passed to Sleep, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Ensure interface compliance.
var (
	_ ports.Clock   = (*Fake)(nil)
	_ ports.Sleeper = (*Fake)(nil)
)
