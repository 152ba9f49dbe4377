package wait

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrInvalidInterval = errors.New("poll interval must be positive")

// Clock is the time source used by polling loops.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Condition reports whether the awaited state has been reached.
type Condition func(ctx context.Context) (bool, error)

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
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

// FakeClock advances only when Sleep is called. It is safe for concurrent use.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewFakeClock(start time.Time) *FakeClock { return &FakeClock{now: start} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return nil
}

// Slept returns every duration passed to Sleep, in order.
func (c *FakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}

// Until sleeps for interval and then evaluates cond, repeating until cond
// is true or at least timeout has elapsed since the call. It returns true
// when cond was satisfied and false on timeout. Errors from cond or from
// the context abort the wait.
func Until(ctx context.Context, clock Clock, interval, timeout time.Duration, cond Condition) (bool, error) {
	if interval <= 0 {
		return false, ErrInvalidInterval
	}
	start := clock.Now()
	for {
		if err := clock.Sleep(ctx, interval); err != nil {
			return false, err
		}
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if clock.Now().Sub(start) >= timeout {
			return false, nil
		}
	}
}
