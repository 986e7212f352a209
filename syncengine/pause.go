package syncengine

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/sirupsen/logrus"
)

// Pause stops draining until the TTL elapses or Resume is called. Queued
// entries keep accumulating while paused; nothing is lost.
func (e *DrainEngine) Pause(ctx context.Context, reason string, ttl time.Duration) error {
	if reason == "" {
		reason = "paused by operator"
	}
	if ttl <= 0 {
		ttl = e.retry.PauseTTL
	}
	if err := models.SetPause(ctx, e.shopId, reason, ttl); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"reason": reason,
		"ttl":    ttl.String(),
	}).Info("sync paused")
	return nil
}

// Resume clears the pause and kicks an immediate drain.
func (e *DrainEngine) Resume(ctx context.Context) error {
	if err := models.ClearPause(ctx, e.shopId); err != nil {
		return err
	}
	e.logger.Info("sync resumed")
	e.SyncNow()
	return nil
}
