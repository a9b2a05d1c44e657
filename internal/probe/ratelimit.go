package probe

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// client pairs a per-IP limiter with its last-seen time so idle entries can
// be evicted; adapted from the teacher's cmd/middleware.go IPRateLimiter.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter is a soft abuse-mitigation companion to Filter (spec.md §4.2
// calls the probe filter a "probe/abuse filter" — this is the abuse half).
// It only answers Allow; the dispatcher's probeAndRateLimitMiddleware turns
// a refusal into the same 403 the probe filter uses.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
}

// NewIPRateLimiter starts the limiter and its background idle-client sweep.
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	l := &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   burst,
	}
	go l.sweep()
	return l
}

// Allow reports whether the given peer address is still within budget.
func (l *IPRateLimiter) Allow(peerAddr string) bool {
	l.mu.Lock()
	c, ok := l.clients[peerAddr]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[peerAddr] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()
	return c.limiter.Allow()
}

func (l *IPRateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for ip, c := range l.clients {
			if time.Since(c.lastSeen) > 3*time.Minute {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}
