// Package ratelimit paces the receive-buffer predictor's aggressive
// growth path with a token bucket, so a single connection reading
// full buffers back-to-back can't keep doubling its guess (and with it
// the allocator pressure it places on the loop) without bound.
package ratelimit

import "golang.org/x/time/rate"

// GrowthLimiter gates the predictor's doubling step behind a token
// bucket. A nil *GrowthLimiter always allows growth.
type GrowthLimiter struct {
	limiter *rate.Limiter
}

// NewGrowthLimiter builds a GrowthLimiter allowing r growth steps per
// second, with burst additional steps available up front.
func NewGrowthLimiter(r rate.Limit, burst int) *GrowthLimiter {
	return &GrowthLimiter{limiter: rate.NewLimiter(r, burst)}
}

// NewDefaultGrowthLimiter returns a GrowthLimiter permitting 50 growth
// steps per second with a burst of 10 — generous enough that a single
// connection ramping up sees no effect, but bounding a connection that
// would otherwise double its guess on every read indefinitely.
func NewDefaultGrowthLimiter() *GrowthLimiter {
	return NewGrowthLimiter(50, 10)
}

// AllowGrowth reports whether the next doubling step may proceed right
// now.
func (g *GrowthLimiter) AllowGrowth() bool {
	if g == nil || g.limiter == nil {
		return true
	}
	return g.limiter.Allow()
}
