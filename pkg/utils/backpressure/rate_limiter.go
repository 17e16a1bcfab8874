package backpressure

import (
	"context"
	"sync"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// TokenBucketLimiter admits rate operations per second with bursts of up to
// burst. Tokens refill continuously.
type TokenBucketLimiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mutex      sync.Mutex
	log        *logger.Logger
}

// Creates a new token bucket limiter that starts full
func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1.0
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		now:    time.Now,
		log:    logger.GetLogger("backpressure.token_bucket"),
	}
	limiter.lastUpdate = limiter.now()

	limiter.log.Debugf("Token bucket rate limiter created with rate=%.2f, burst=%d", rate, burst)
	return limiter
}

// Allow takes one token if available
func (tb *TokenBucketLimiter) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if available
func (tb *TokenBucketLimiter) AllowN(n int) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done
func (tb *TokenBucketLimiter) Wait(ctx context.Context) error {
	if tb.Allow() {
		return nil
	}

	for {
		timer := time.NewTimer(tb.waitTime())
		select {
		case <-timer.C:
			if tb.Allow() {
				return nil
			}
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// refill adds the tokens accrued since the last update. Caller holds the mutex.
func (tb *TokenBucketLimiter) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastUpdate = now
}

// waitTime estimates how long until one token is available
func (tb *TokenBucketLimiter) waitTime() time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	missing := 1 - tb.tokens
	if missing <= 0 {
		return time.Millisecond
	}
	wait := time.Duration(missing / tb.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// Limit returns the refill rate per second
func (tb *TokenBucketLimiter) Limit() float64 {
	return tb.rate
}

// Burst returns the bucket capacity
func (tb *TokenBucketLimiter) Burst() int {
	return tb.burst
}

// TokensRemaining returns the whole tokens currently available
func (tb *TokenBucketLimiter) TokensRemaining() int {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	return int(tb.tokens)
}
