package rangehttp

import (
	"context"
	"sync/atomic"
	"time"
)

// RateLimiter paces one worker to a bytes-per-second cap over rolling
// one-second windows. Pacing is bursty inside a window but converges on the
// cap. The cap may be changed from any goroutine; everything else belongs to
// the owning worker.
type RateLimiter struct {
	limit atomic.Int64

	windowStart time.Time
	windowBytes int64
	windowLimit int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(bps int64) *RateLimiter {
	l := &RateLimiter{now: time.Now, sleep: sleepContext}
	l.SetLimit(bps)
	return l
}

// SetLimit changes the cap; 0 or less disables pacing. It takes effect at the
// next Wait.
func (l *RateLimiter) SetLimit(bps int64) {
	l.limit.Store(max(bps, 0))
}

func (l *RateLimiter) Limit() int64 {
	return l.limit.Load()
}

// Wait accounts n freshly written bytes and sleeps if the window is ahead of
// the cap. A changed cap starts a fresh window.
func (l *RateLimiter) Wait(ctx context.Context, n int) error {
	limit := l.limit.Load()
	if limit <= 0 {
		l.windowStart = time.Time{}
		l.windowBytes = 0
		return nil
	}
	now := l.now()
	if l.windowStart.IsZero() || limit != l.windowLimit {
		l.windowStart = now
		l.windowBytes = 0
		l.windowLimit = limit
	}
	l.windowBytes += int64(n)
	elapsed := now.Sub(l.windowStart)
	if elapsed >= time.Second {
		l.windowStart = now
		l.windowBytes = 0
		return nil
	}
	expected := time.Duration(float64(l.windowBytes) / float64(limit) * float64(time.Second))
	if elapsed < expected {
		return l.sleep(ctx, expected-elapsed)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
