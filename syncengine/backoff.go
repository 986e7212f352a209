package syncengine

import (
	"os"
	"strconv"
	"time"
)

// drainRetryConfig tunes the retry and circuit breaker behaviour. All knobs
// come from env so a misbehaving deployment can be softened without a rebuild.
type drainRetryConfig struct {
	// MaxPermanentAttempts bounds retries of mutations the server refuses with
	// a non-retryable status. Network and 5xx failures are never bounded; the
	// queue simply waits for connectivity to come back.
	MaxPermanentAttempts int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	// PauseAfterFailures is the consecutive transient failure count that trips
	// the circuit breaker.
	PauseAfterFailures int
	PauseTTL           time.Duration
	AuthPauseTTL       time.Duration
}

func loadDrainRetryConfig() drainRetryConfig {
	return drainRetryConfig{
		MaxPermanentAttempts: intFromEnv("SYNC_MAX_PERMANENT_ATTEMPTS", 3),
		BaseBackoff:          durationFromEnvMs("SYNC_BASE_BACKOFF_MS", 2*time.Second),
		MaxBackoff:           durationFromEnvMs("SYNC_MAX_BACKOFF_MS", 5*time.Minute),
		PauseAfterFailures:   intFromEnv("SYNC_PAUSE_AFTER_FAILURES", 10),
		PauseTTL:             durationFromEnvMs("SYNC_PAUSE_TTL_MS", 10*time.Minute),
		AuthPauseTTL:         durationFromEnvMs("SYNC_AUTH_PAUSE_TTL_MS", 30*time.Minute),
	}
}

// backoffFor returns the delay before the next attempt: base doubled per prior
// attempt, capped. attempts is the count AFTER the failure being recorded.
func (c drainRetryConfig) backoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.BaseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if backoff > c.MaxBackoff {
		return c.MaxBackoff
	}
	return backoff
}

func intFromEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func durationFromEnvMs(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
