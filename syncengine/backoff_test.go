package syncengine

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	cfg := drainRetryConfig{
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.backoffFor(tc.attempts); got != tc.want {
			t.Errorf("backoffFor(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	t.Setenv("SYNC_MAX_PERMANENT_ATTEMPTS", "")
	t.Setenv("SYNC_BASE_BACKOFF_MS", "")
	t.Setenv("SYNC_MAX_BACKOFF_MS", "")
	t.Setenv("SYNC_PAUSE_AFTER_FAILURES", "")
	t.Setenv("SYNC_PAUSE_TTL_MS", "")

	cfg := loadDrainRetryConfig()
	if cfg.MaxPermanentAttempts != 3 {
		t.Errorf("MaxPermanentAttempts = %d, want 3", cfg.MaxPermanentAttempts)
	}
	if cfg.BaseBackoff != 2*time.Second {
		t.Errorf("BaseBackoff = %s, want 2s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 5*time.Minute {
		t.Errorf("MaxBackoff = %s, want 5m", cfg.MaxBackoff)
	}
	if cfg.PauseAfterFailures != 10 {
		t.Errorf("PauseAfterFailures = %d, want 10", cfg.PauseAfterFailures)
	}
}

func TestRetryConfigEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_MAX_PERMANENT_ATTEMPTS", "5")
	t.Setenv("SYNC_BASE_BACKOFF_MS", "100")
	t.Setenv("SYNC_PAUSE_TTL_MS", "60000")

	cfg := loadDrainRetryConfig()
	if cfg.MaxPermanentAttempts != 5 {
		t.Errorf("MaxPermanentAttempts = %d, want 5", cfg.MaxPermanentAttempts)
	}
	if cfg.BaseBackoff != 100*time.Millisecond {
		t.Errorf("BaseBackoff = %s, want 100ms", cfg.BaseBackoff)
	}
	if cfg.PauseTTL != time.Minute {
		t.Errorf("PauseTTL = %s, want 1m", cfg.PauseTTL)
	}
}

func TestRetryConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("SYNC_MAX_PERMANENT_ATTEMPTS", "banana")
	t.Setenv("SYNC_BASE_BACKOFF_MS", "-5")

	cfg := loadDrainRetryConfig()
	if cfg.MaxPermanentAttempts != 3 {
		t.Errorf("MaxPermanentAttempts = %d, want default 3", cfg.MaxPermanentAttempts)
	}
	if cfg.BaseBackoff != 2*time.Second {
		t.Errorf("BaseBackoff = %s, want default 2s", cfg.BaseBackoff)
	}
}
