package resilience

import (
	"time"
)

// FromFetchSettings converts flat fetch configuration values into a
// RetryConfig. maxRetries counts retries, so the first attempt is added.
func FromFetchSettings(maxRetries, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if initialBackoffMs > 0 {
		cfg.Backoff.Initial = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.Backoff.Max = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Backoff.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.Backoff.JitterFraction = jitterFraction
	}
	return cfg
}

// FromBreakerSettings converts flat configuration values into a BreakerConfig.
func FromBreakerSettings(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
