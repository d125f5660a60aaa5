package util

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

var (
	// DefaultRate is the default minimum time between requests
	DefaultRate = 200 * time.Millisecond
	// DefaultBurst is the default burst size
	DefaultBurst = 5
	// maxBackoff caps the interval after repeated throttling.
	maxBackoff = 5 * time.Second
)

// RateLimiter is a token bucket shared by every outbound platform request.
// The interval widens when the platform answers 429 and is restored by
// ResetRate.
type RateLimiter struct {
	mu        sync.Mutex
	last      time.Time
	rate      time.Duration
	minRate   time.Duration
	tokens    int
	maxTokens int
	lastDrop  time.Time
	log       *logger.Logger
}

// NewRateLimiter returns a limiter that allows burst requests at once and
// one request per rate afterwards.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	now := time.Now()
	return &RateLimiter{
		last:      now,
		rate:      rate,
		minRate:   rate,
		tokens:    burst,
		maxTokens: burst,
		lastDrop:  now.Add(-time.Hour),
		log:       logger.Get(),
	}
}

// PerSecond converts a requests-per-second figure into a limiter interval.
func PerSecond(rps float64) time.Duration {
	if rps <= 0 {
		return DefaultRate
	}
	return time.Duration(float64(time.Second) / rps)
}

func (r *RateLimiter) refill(now time.Time) {
	newTokens := int(now.Sub(r.last) / r.rate)
	if newTokens <= 0 {
		return
	}
	r.tokens += newTokens
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.last = now
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.refill(time.Now())
	if r.tokens > 0 {
		r.tokens--
		r.mu.Unlock()
		return nil
	}
	// up to 20% jitter so concurrent refreshes do not line up
	wait := r.rate + time.Duration(rand.Float64()*0.2*float64(r.rate))
	next := r.last.Add(wait)
	r.mu.Unlock()

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.mu.Lock()
		r.last = next
		r.tokens = 0
		r.mu.Unlock()
		return nil
	}
}

// OnRateLimit widens the interval after the platform throttled us and
// returns how long the caller should back off.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	factor := 1.2
	if now.Sub(r.lastDrop) < 5*time.Minute {
		factor = 1.5
	}
	r.rate = time.Duration(factor * float64(r.rate))
	if r.rate > maxBackoff {
		r.rate = maxBackoff
	}
	r.lastDrop = now

	r.log.Warn("Platform throttled requests, slowing down", map[string]interface{}{
		"interval":    r.rate.String(),
		"retry_after": retryAfter.String(),
	})

	if retryAfter > r.rate {
		return retryAfter
	}
	return r.rate
}

// ResetRate restores the configured interval.
func (r *RateLimiter) ResetRate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = r.minRate
}

// Rate returns the current interval.
func (r *RateLimiter) Rate() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}
