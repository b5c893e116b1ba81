package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveLimiter_OnRateLimit_Halves(t *testing.T) {
	lim := NewAdaptiveLimiter(8)

	lim.OnRateLimit()
	assert.InDelta(t, 4.0, float64(lim.Limit()), 0.01)

	lim.OnRateLimit()
	assert.InDelta(t, 2.0, float64(lim.Limit()), 0.01)
}

func TestAdaptiveLimiter_OnRateLimit_Floor(t *testing.T) {
	lim := NewAdaptiveLimiter(8)
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 1.0, float64(lim.Limit()), 0.01)
}

func TestAdaptiveLimiter_OnSuccess_NeverExceedsCeiling(t *testing.T) {
	lim := NewAdaptiveLimiter(10)
	lim.OnSuccess()
	assert.InDelta(t, 10.0, float64(lim.Limit()), 0.01)

	lim.OnRateLimit()
	lim.OnSuccess()
	assert.InDelta(t, 6.0, float64(lim.Limit()), 0.01)

	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 10.0, float64(lim.Limit()), 0.01)
}

func TestAdaptiveLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001)
	_ = lim.Wait(context.Background()) // consume the single token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}
