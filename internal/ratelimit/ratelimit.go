// Package ratelimit throttles accepted requests with a token bucket.
package ratelimit

import "golang.org/x/time/rate"

type Limiter struct {
	limiter *rate.Limiter
}

// New uses 0 or negative limit for no rate limiting.
func New(requestsPerSecond float64) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{
			limiter: rate.NewLimiter(rate.Inf, 1),
		}
	}

	// Burst equals one second of traffic so short spikes are absorbed
	// without raising the sustained rate.
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow is non-blocking; a false result means the request should be
// rejected rather than queued.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit reports the configured rate, 0 when unlimited.
func (l *Limiter) Limit() float64 {
	limit := l.limiter.Limit()
	if limit == rate.Inf {
		return 0
	}
	return float64(limit)
}
