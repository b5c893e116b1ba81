package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter spaces requests to the portal. It starts at the configured
// requests-per-second ceiling, halves on every 429 and recovers by 20% per
// successful response, never exceeding the ceiling. Burst is fixed at 1 so no
// two requests are ever closer than 1/rate apart.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	ceiling     rate.Limit
	floor       rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter allowing at most rps requests per second.
func NewAdaptiveLimiter(rps float64) *AdaptiveLimiter {
	ceiling := rate.Limit(rps)
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(ceiling, 1),
		ceiling:     ceiling,
		floor:       ceiling / 8,
		currentRate: ceiling,
	}
}

// Wait blocks until the next request may be issued.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at the ceiling.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate >= a.ceiling {
		return
	}
	newRate := a.currentRate * 1.2
	if newRate > a.ceiling {
		newRate = a.ceiling
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate after a 429, down to an eighth of the ceiling.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.floor {
		newRate = a.floor
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("portal rate limited us, slowing down",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
