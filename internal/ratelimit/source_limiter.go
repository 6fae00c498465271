// Package ratelimit provides client-side throttling for upstream price
// and ledger sources.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// SourceLimiter throttles outbound calls per named upstream source.
// Each source gets its own token bucket so one slow source's budget
// does not starve the others.
type SourceLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	defaults map[string]rate.Limit
	fallback rate.Limit
	burst    int
}

// NewSourceLimiter creates a limiter with a default requests-per-second
// budget applied to sources without an explicit one.
func NewSourceLimiter(defaultRPS float64, burst int) *SourceLimiter {
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		defaults: make(map[string]rate.Limit),
		fallback: rate.Limit(defaultRPS),
		burst:    burst,
	}
}

// SetSourceRate configures a per-source requests-per-second budget
func (sl *SourceLimiter) SetSourceRate(source string, rps float64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.defaults[source] = rate.Limit(rps)
	delete(sl.limiters, source)
}

// Wait blocks until the source may make another call or the context is done
func (sl *SourceLimiter) Wait(ctx context.Context, source string) error {
	return sl.limiter(source).Wait(ctx)
}

// Allow reports whether the source may make a call right now
func (sl *SourceLimiter) Allow(source string) bool {
	return sl.limiter(source).Allow()
}

func (sl *SourceLimiter) limiter(source string) *rate.Limiter {
	sl.mu.RLock()
	limiter, exists := sl.limiters[source]
	sl.mu.RUnlock()

	if exists {
		return limiter
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := sl.limiters[source]; exists {
		return limiter
	}

	limit := sl.fallback
	if configured, ok := sl.defaults[source]; ok {
		limit = configured
	}

	limiter = rate.NewLimiter(limit, sl.burst)
	sl.limiters[source] = limiter
	return limiter
}
