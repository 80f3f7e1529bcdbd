package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks the remaining API quota reported by the exchange.
// Bybit returns the remaining request budget per endpoint group in response
// headers, so we track remaining-out-of-limit rather than consumed weight.
type RateLimiter struct {
	remaining int
	limit     int
	lastSeen  time.Time
	staleTime time.Duration
	mu        sync.RWMutex
}

// NewRateLimiter creates a rate limiter.
// limit: the endpoint group's request budget per window (e.g. 10/s for order
// endpoints). staleTime: how long a header observation stays meaningful.
func NewRateLimiter(limit int, staleTime time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		remaining: limit,
		staleTime: staleTime,
	}
}

// UpdateFromHeaders records the remaining/limit pair from API response headers.
func (rl *RateLimiter) UpdateFromHeaders(remainingHeader, limitHeader string) {
	if remainingHeader == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingHeader)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limitHeader != "" {
		if limit, err := strconv.Atoi(limitHeader); err == nil && limit > 0 {
			rl.limit = limit
		}
	}
	rl.remaining = remaining
	rl.lastSeen = time.Now()

	pct := float64(rl.remaining) / float64(rl.limit) * 100
	if pct <= 5 {
		log.Printf("rate limit critical: %d/%d remaining (%.1f%%)", rl.remaining, rl.limit, pct)
	} else if pct <= 20 {
		log.Printf("rate limit warning: %d/%d remaining (%.1f%%)", rl.remaining, rl.limit, pct)
	}
}

// GetUsage returns the last observed remaining quota and limit.
func (rl *RateLimiter) GetUsage() (remaining int, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	// A stale observation means the window has long rolled over.
	if time.Since(rl.lastSeen) >= rl.staleTime {
		return rl.limit, rl.limit
	}
	return rl.remaining, rl.limit
}

// ShouldDelay reports whether the next request should back off.
func (rl *RateLimiter) ShouldDelay() bool {
	remaining, limit := rl.GetUsage()
	if limit == 0 {
		return false
	}
	return float64(remaining)/float64(limit) <= 0.1
}
