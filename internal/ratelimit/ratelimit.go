// Package ratelimit throttles per-connection send/poll throughput using
// golang.org/x/time/rate, the token-bucket limiter named in the broker's
// domain stack for this concern.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket sized in bytes per second with a burst
// allowance. The dispatcher and transports do not call it; no request is
// throttled by this package.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a Limiter allowing bytesPerSecond sustained throughput with
// burst headroom of burstBytes. A zero bytesPerSecond disables limiting.
func New(bytesPerSecond, burstBytes int) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes)}
}

// WaitN blocks until n bytes' worth of budget is available or ctx is
// cancelled.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	return l.bucket.WaitN(ctx, n)
}

// AllowN reports whether n bytes may proceed immediately, without blocking.
func (l *Limiter) AllowN(n int) bool {
	return l.bucket.AllowN(time.Now(), n)
}
