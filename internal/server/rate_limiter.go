// Package server implements a token bucket rate limiter for per-connection
// throttling of inbound client frames.
package server

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
	clock   clockwork.Clock
}

// newRateLimiter allows capacity frames per interval, refilled continuously.
func newRateLimiter(capacity int, interval time.Duration, clock clockwork.Clock) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity),
		clock:   clock,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.AllowN(rl.clock.Now(), 1)
}
