package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter serializes outbound requests to a minimum inter-request
// interval and blocks every caller while a server-imposed ban window is
// open. One limiter instance guards the main site, a second independent
// one guards the thumbnail CDN.
type Limiter struct {
	limiter *rate.Limiter

	mu       sync.RWMutex
	banUntil time.Time
}

// NewLimiter creates a limiter enforcing the given minimum interval
// between permits
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Acquire blocks until the ban barrier (if any) has elapsed and the
// minimum interval since the previous permit has passed
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := time.Until(l.BanDeadline())
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Re-check: another ban may have been reported while waiting
	}

	return l.limiter.Wait(ctx)
}

// SetBan raises the ban barrier for d from now. Overlapping ban reports
// leave the barrier at the furthest deadline.
func (l *Limiter) SetBan(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)

	l.mu.Lock()
	if deadline.After(l.banUntil) {
		l.banUntil = deadline
	}
	l.mu.Unlock()
}

// BanDeadline returns the current barrier deadline (zero when no ban is
// active)
func (l *Limiter) BanDeadline() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.banUntil
}

// Banned reports whether the barrier is currently closed
func (l *Limiter) Banned() bool {
	return time.Now().Before(l.BanDeadline())
}
