package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	ratelib "golang.org/x/time/rate"
)

// Config defines the token bucket applied to each client.
type Config struct {
	// RequestsPerSecond is the average rate allowed per client. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the bucket size.
	Burst int
}

func (c Config) Enabled() bool { return c.RequestsPerSecond > 0 }

type bucket struct {
	lim  *ratelib.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per client key.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow consumes one token for key. A disabled limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if !l.cfg.Enabled() {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: ratelib.NewLimiter(ratelib.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Prune drops buckets idle for longer than idle. Returns the number removed.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// ClientKey is the remote IP of r, or the raw RemoteAddr when it has no port.
func ClientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || ip == "" {
		return r.RemoteAddr
	}
	return ip
}
