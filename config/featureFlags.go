package config

import (
	"os"
	"strings"
)

// RealtimeEnabled gates the realtime event bridge (publish and subscribe).
// A shop running a single till gains nothing from peer invalidation and can
// switch the relay traffic off entirely.
//
// Set via env:
// - REALTIME_ENABLED=false
func RealtimeEnabled() bool {
	return EnvBoolDefault("REALTIME_ENABLED", true)
}

// ConnectivityProbeEnabled gates the background reachability probe. Platforms
// that deliver their own online/offline signal can disable the poll and drive
// the observer through SetOnline instead.
//
// Set via env:
// - CONNECTIVITY_PROBE_ENABLED=false
func ConnectivityProbeEnabled() bool {
	return EnvBoolDefault("CONNECTIVITY_PROBE_ENABLED", true)
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
