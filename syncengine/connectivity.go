package syncengine

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"github.com/sirupsen/logrus"
)

// ConnectivityObserver tracks whether the backend is reachable. It merges two
// signals: explicit reports from the caller (the UI's online/offline events)
// and an optional background probe against the server's health endpoint.
// Transitions to online wake the drain engine immediately.
type ConnectivityObserver struct {
	logger   *logrus.Logger
	probeURL string
	interval time.Duration
	online   atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
}

func NewConnectivityObserver(logger *logrus.Logger, probeURL string) *ConnectivityObserver {
	observer := &ConnectivityObserver{
		logger:   logger,
		probeURL: probeURL,
		interval: durationFromEnvMs("CONNECTIVITY_PROBE_INTERVAL_MS", 30*time.Second),
	}
	// Assume online until told otherwise; the first failed push or probe
	// flips it, and queued work is harmless either way.
	observer.online.Store(true)
	return observer
}

func (o *ConnectivityObserver) Online() bool {
	return o.online.Load()
}

// SetOnline records a connectivity report. Returns true when the state
// actually changed. Offline->online transitions notify listeners so a drain
// can start without waiting for the next poll tick.
func (o *ConnectivityObserver) SetOnline(online bool) bool {
	if !o.online.CompareAndSwap(!online, online) {
		return false
	}
	o.logger.WithFields(logrus.Fields{"online": online}).Info("connectivity changed")

	o.mu.Lock()
	listeners := make([]func(bool), len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, listener := range listeners {
		listener(online)
	}
	return true
}

// OnChange registers a listener invoked on every state transition.
func (o *ConnectivityObserver) OnChange(listener func(online bool)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, listener)
	o.mu.Unlock()
}

// Run probes the health endpoint on an interval until ctx is done. A probe is
// a hint, not a guarantee: a reachable /healthz does not promise the push
// endpoint will succeed, so push failures still flip the state themselves.
func (o *ConnectivityObserver) Run(ctx context.Context) {
	if !config.ConnectivityProbeEnabled() || o.probeURL == "" {
		return
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SetOnline(o.probe(ctx, client))
		}
	}
}

func (o *ConnectivityObserver) probe(ctx context.Context, client *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}
