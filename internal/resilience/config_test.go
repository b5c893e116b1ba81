package resilience

import (
	"testing"
	"time"
)

func TestFromFetchSettings(t *testing.T) {
	cfg := FromFetchSettings(4, 250, 8000, 3, 0.1)
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5 (4 retries + first try)", cfg.MaxAttempts)
	}
	if cfg.Backoff.Initial != 250*time.Millisecond || cfg.Backoff.Max != 8*time.Second {
		t.Errorf("unexpected backoff bounds %+v", cfg.Backoff)
	}
	if cfg.Backoff.Multiplier != 3 || cfg.Backoff.JitterFraction != 0.1 {
		t.Errorf("unexpected backoff shape %+v", cfg.Backoff)
	}

	zero := FromFetchSettings(0, 0, 0, 0, -1)
	if zero.MaxAttempts != 1 {
		t.Errorf("zero retries should mean a single attempt, got %d", zero.MaxAttempts)
	}
	if zero.Backoff != DefaultBackoff() {
		t.Errorf("unset values should keep defaults, got %+v", zero.Backoff)
	}
}

func TestFromBreakerSettings(t *testing.T) {
	cfg := FromBreakerSettings(3, 10)
	if cfg.FailureThreshold != 3 || cfg.ResetTimeout != 10*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	def := FromBreakerSettings(0, 0)
	if def.FailureThreshold != 5 || def.ResetTimeout != 30*time.Second {
		t.Errorf("expected defaults, got %+v", def)
	}
}
