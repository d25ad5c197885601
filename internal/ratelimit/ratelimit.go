// Package ratelimit throttles API clients with a token bucket per
// caller, keyed by API credential when present and by IP otherwise.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config sets the per-caller budget.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per caller.
	RequestsPerMinute int
	// BurstSize caps how far a quiet caller can get ahead of the rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second sustained with short
// bursts of ten, which covers a checkout flow without letting a
// webhook storm through.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

type bucket struct {
	level float64
	seen  time.Time
}

// Limiter holds one token bucket per caller key.
type Limiter struct {
	cfg     Config
	refill  float64 // tokens per second
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

// New creates a limiter and starts its idle-bucket sweeper. Call Stop
// on shutdown.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		refill:  float64(cfg.RequestsPerMinute) / 60.0,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.seen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the sweeper goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow spends one token from key's bucket, reporting whether the
// request may proceed. New callers start with a full burst allowance.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{level: float64(l.cfg.BurstSize) - 1, seen: now}
		return true
	}

	b.level += now.Sub(b.seen).Seconds() * l.refill
	if max := float64(l.cfg.BurstSize); b.level > max {
		b.level = max
	}
	b.seen = now

	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// Middleware throttles requests. Authenticated callers are keyed by a
// prefix of their credential so one tenant behind a NAT cannot starve
// another; everyone else shares a per-IP bucket.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if cred := c.GetHeader("Authorization"); cred != "" {
			key = "auth:" + cred[:min(20, len(cred))]
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
