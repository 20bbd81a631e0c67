package httprequester

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket rate limiter, carried over from the
// teacher's internal/rest/rate_limiter.go unchanged in mechanism — it
// was already generic (no Binance-specific fields), so it moves here
// verbatim in behavior rather than being reinvented.
type RateLimiter struct {
	rate  float64
	burst int

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a new token bucket rate limiter.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:   requestsPerSecond,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

func (rl *RateLimiter) TryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.TryAcquire() {
		return nil
	}
	if rl.rate == 0 {
		return context.DeadlineExceeded
	}

	rl.mu.Lock()
	waitTime := time.Duration((1.0 / rl.rate) * float64(time.Second))
	rl.mu.Unlock()

	select {
	case <-time.After(waitTime):
		if rl.TryAcquire() {
			return nil
		}
		return rl.Wait(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.burst)
	rl.last = time.Now()
}

func (rl *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(rl.last).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.last = now
}
