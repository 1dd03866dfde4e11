// Package ratelimit implements a per-caller HTTP rate limiter.
// Thread-safe. Each caller gets an independent token bucket; one caller
// cannot exhaust another's quota.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a caller has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

const defaultCleanupInterval = 10 * time.Minute

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int           // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int           // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
	CleanupInterval   time.Duration // Idle entry eviction interval. 0 = 10 minutes.
}

// callerEntry holds a rate limiter and its last-used timestamp for cleanup.
type callerEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // UnixNano
}

// Limiter is a per-caller token bucket rate limiter backed by
// golang.org/x/time/rate. Idle entries are evicted by a background sweep.
type Limiter struct {
	callers sync.Map // caller id string → *callerEntry
	perMin  int
	burst   int
	sweep   time.Duration
	cancel  context.CancelFunc
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	sweep := cfg.CleanupInterval
	if sweep <= 0 {
		sweep = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		perMin: cfg.RequestsPerMinute,
		burst:  burst,
		sweep:  sweep,
		cancel: cancel,
	}
	if l.perMin > 0 {
		go l.cleanup(ctx)
	}
	return l
}

// Allow checks whether the caller has tokens remaining.
// Consumes one token on success. Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(callerID string) error {
	if l.perMin <= 0 {
		return nil
	}
	if !l.getLimiter(callerID).Allow() {
		return ErrRateLimited
	}
	return nil
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.cancel()
}

// getLimiter returns the limiter for the caller, creating one if needed.
func (l *Limiter) getLimiter(callerID string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := l.callers.Load(callerID); ok {
		entry := v.(*callerEntry)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	perSecond := float64(l.perMin) / 60.0
	limiter := rate.NewLimiter(rate.Limit(perSecond), l.burst)
	entry := &callerEntry{limiter: limiter}
	entry.lastSeen.Store(now)

	actual, loaded := l.callers.LoadOrStore(callerID, entry)
	if loaded {
		existing := actual.(*callerEntry)
		existing.lastSeen.Store(now)
		return existing.limiter
	}
	return limiter
}

// cleanup periodically removes idle caller entries.
func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.sweep).UnixNano()
			l.callers.Range(func(key, value any) bool {
				entry := value.(*callerEntry)
				if entry.lastSeen.Load() < cutoff {
					l.callers.Delete(key)
				}
				return true
			})
		}
	}
}
