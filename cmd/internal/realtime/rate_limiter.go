package realtime

import (
	"slices"
	"sync"
	"time"
)

// frameLimiter is a per-connection sliding-window limiter for inbound frames.
type frameLimiter struct {
	mu     sync.Mutex
	seen   []time.Time
	limit  int
	window time.Duration
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{
		seen:   make([]time.Time, 0, limit+1),
		limit:  limit,
		window: window,
	}
}

// allow records a frame at now and reports whether it fits the window.
func (l *frameLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	l.seen = slices.DeleteFunc(l.seen, func(t time.Time) bool { return !t.After(cut) })
	if len(l.seen) >= l.limit {
		return false
	}
	l.seen = append(l.seen, now)
	return true
}
