package proxy

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits new connections per client IP.
//
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
	sweepAt time.Time
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns nil when perSecond <= 0.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a new connection from addr may proceed.
func (l *RateLimiter) Allow(addr net.Addr) bool {
	if l == nil || addr == nil {
		return true
	}
	key := clientIP(addr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

// admit applies l to conn's remote address and counts a refusal on m.
func (l *RateLimiter) admit(conn net.Conn, m interface{ IncRateLimited() }) bool {
	if l.Allow(conn.RemoteAddr()) {
		return true
	}
	if m != nil {
		m.IncRateLimited()
	}
	return false
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, k)
		}
	}
	l.sweepAt = now.Add(l.idle)
}

func clientIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
