package gateway

import (
	"sync"
	"time"
)

// RateLimiter throttles outbound requests so the brokerage's pacing
// limits are never tripped.
type RateLimiter interface {
	Wait()
}

// TokenBucketLimiter refills tokens continuously at rate per second up
// to burst. Wait consumes one token, sleeping for the shortfall when
// the bucket is empty.
type TokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

func (l *TokenBucketLimiter) Wait() {
	l.mu.Lock()
	l.refill(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return
	}
	shortfall := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.tokens = 0
	l.mu.Unlock()
	time.Sleep(shortfall + time.Millisecond)
}

// refill credits tokens for the time elapsed since the last call,
// capped at the burst size.
func (l *TokenBucketLimiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}
