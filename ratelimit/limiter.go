// Package ratelimit provides a token-bucket rate limiter backed by
// golang.org/x/time/rate for use as a server call gate.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether an incoming call may proceed.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps calls per second with the
// given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// FromRule creates a Limiter allowing n calls per window, all of which may
// arrive at once. A non-positive window allows nothing beyond the burst.
func FromRule(n int, window time.Duration) *Limiter {
	if window <= 0 {
		return NewLimiter(0, n)
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(window/time.Duration(max(n, 1))), n)}
}

// Allow reports whether a single call may proceed now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Tokens returns the number of calls currently available.
func (l *Limiter) Tokens() float64 {
	return l.lim.Tokens()
}
