// Package ratelimit caps how many outbound sends may start per fixed window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out send permits. TryAcquire never blocks: it either consumes
// one unit of the current window's quota and returns true, or returns false
// without side effects.
type Limiter interface {
	TryAcquire(ctx context.Context) bool
}

// FixedWindow is a process-wide in-memory limiter.
type FixedWindow struct {
	mu          sync.Mutex
	capacity    int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

func NewFixedWindow(capacity int, window time.Duration) *FixedWindow {
	return NewFixedWindowWithClock(capacity, window, time.Now)
}

func NewFixedWindowWithClock(capacity int, window time.Duration, now func() time.Time) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{
		capacity: capacity,
		window:   window,
		now:      now,
	}
}

func (l *FixedWindow) TryAcquire(_ context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.capacity {
		return false
	}
	l.count++
	return true
}

// Remaining reports the unused quota of the current window.
func (l *FixedWindow) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || l.now().Sub(l.windowStart) >= l.window {
		return l.capacity
	}
	return l.capacity - l.count
}
