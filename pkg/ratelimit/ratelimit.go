// Package ratelimit caps how fast anonymous chat visitors can spend a site
// owner's upstream quota.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter. A zero rate disables that limit.
type Config struct {
	// PerKeyPerSecond and PerKeyBurst apply to each key (a visitor address).
	PerKeyPerSecond float64
	PerKeyBurst     int
	// GlobalPerSecond and GlobalBurst apply to all keys together.
	GlobalPerSecond float64
	GlobalBurst     int
}

// Enabled reports whether cfg limits anything.
func (c Config) Enabled() bool {
	return c.PerKeyPerSecond > 0 || c.GlobalPerSecond > 0
}

// Limiter is a token bucket per key behind an optional global bucket.
type Limiter struct {
	global  *rate.Limiter
	perKey  rate.Limit
	burst   int
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter. Bursts below one are raised to one.
func New(cfg Config) *Limiter {
	l := &Limiter{
		global:  rate.NewLimiter(rate.Inf, 0),
		perKey:  rate.Inf,
		burst:   max(cfg.PerKeyBurst, 1),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if cfg.GlobalPerSecond > 0 {
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalPerSecond), max(cfg.GlobalBurst, 1))
	}
	if cfg.PerKeyPerSecond > 0 {
		l.perKey = rate.Limit(cfg.PerKeyPerSecond)
	}
	return l
}

// Allow reports whether one more request for key may proceed now. A denied
// request consumes no tokens.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.perKey, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// Reserve per key first so a denied key does not drain the global bucket.
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false
	}
	if !l.global.AllowN(now, 1) {
		r.CancelAt(now)
		return false
	}
	return true
}

// Prune drops buckets unused for longer than idle and returns how many it
// dropped.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
