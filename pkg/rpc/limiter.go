package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter drops the bucket of a user idle for this long; a new one starts full.
const idleAfter = 10 * time.Minute

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// limiter is a token bucket per user.
type limiter struct {
	mu      sync.Mutex
	r       rate.Limit
	b       int
	users   map[int64]*bucket
	pruneAt time.Time
}

// newLimiter returns nil, no limit, when r is not positive.
func newLimiter(r float64, b int) *limiter {
	if r <= 0 {
		return nil
	}
	if b < 1 {
		b = 1
	}
	return &limiter{r: rate.Limit(r), b: b, users: make(map[int64]*bucket)}
}

func (l *limiter) Allow(owner int64) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.pruneAt) {
		for k, v := range l.users {
			if now.Sub(v.lastSeen) > idleAfter {
				delete(l.users, k)
			}
		}
		l.pruneAt = now.Add(idleAfter)
	}

	u, ok := l.users[owner]
	if !ok {
		u = &bucket{Limiter: rate.NewLimiter(l.r, l.b)}
		l.users[owner] = u
	}
	u.lastSeen = now
	return u.AllowN(now, 1)
}
