package rangehttp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PauseGate is the shared suspend/resume signal of one download. The flag
// is readable without locking; the wake channel is replaced on every pause
// and closed on resume, so every waiter is released at once.
type PauseGate struct {
	mu     sync.Mutex
	paused atomic.Bool
	wake   chan struct{}
}

func NewPauseGate() *PauseGate {
	return &PauseGate{}
}

func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused.Load() {
		return
	}
	g.wake = make(chan struct{})
	g.paused.Store(true)
}

func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused.Load() {
		return
	}
	g.paused.Store(false)
	close(g.wake)
}

func (g *PauseGate) Paused() bool {
	return g.paused.Load()
}

func (g *PauseGate) waitChan() (chan struct{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wake, g.paused.Load()
}

// Wait blocks while the gate is set. It returns true if it had to wait at
// all, and ctx.Err() if the context ends first.
func (g *PauseGate) Wait(ctx context.Context) (bool, error) {
	waited := false
	for {
		wake, paused := g.waitChan()
		if !paused {
			return waited, nil
		}
		waited = true
		select {
		case <-wake:
			// re-check; a new pause may have raced in
		case <-ctx.Done():
			return waited, ctx.Err()
		}
	}
}

// WaitTimeout blocks while the gate is set for at most d and reports whether
// the gate is still set afterwards.
func (g *PauseGate) WaitTimeout(ctx context.Context, d time.Duration) bool {
	wake, paused := g.waitChan()
	if !paused {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	case <-ctx.Done():
	}
	return g.Paused()
}
