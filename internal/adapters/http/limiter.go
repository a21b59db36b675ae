package http

import (
	"sync"
	"time"
)

// JoinLimiter allows at most limit relay connections per client within a
// sliding window. It keeps viewers from walking the room code space.
type JoinLimiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewJoinLimiter(limit int, window time.Duration) *JoinLimiter {
	return &JoinLimiter{
		history: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the limit.
// A nil limiter or a non-positive limit allows everything.
func (l *JoinLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	since := now.Add(-l.window)
	fresh := l.history[key][:0]
	for _, t := range l.history[key] {
		if t.After(since) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= l.limit {
		l.history[key] = fresh
		return false
	}
	l.history[key] = append(fresh, now)
	return true
}

// Prune drops clients with no attempt inside the window.
func (l *JoinLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	since := l.now().Add(-l.window)
	for key, ts := range l.history {
		if len(ts) == 0 || !ts[len(ts)-1].After(since) {
			delete(l.history, key)
		}
	}
}
