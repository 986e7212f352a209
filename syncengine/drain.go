package syncengine

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// drainOnce claims the eligible head entries and pushes them in order. The
// caller already holds the drain lease and has checked pause + connectivity.
func (e *DrainEngine) drainOnce(ctx context.Context) {
	entries, err := e.claimBatch(ctx)
	if err != nil {
		config.LogError(e.logger, "syncengine", "drainOnce", "claim batch", nil, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	e.logger.WithFields(logrus.Fields{
		"shopId":  e.shopId,
		"claimed": len(entries),
	}).Info("drain cycle started")

	var successes int
	var cycleErr error

	for i, entry := range entries {
		if ctx.Err() != nil {
			e.unlockEntries(entries[i:])
			return
		}
		// Long batches outlive the lease TTL; refresh it as we go.
		if i > 0 && i%10 == 0 {
			if err := e.lease.Extend(ctx); err != nil {
				e.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("drain lease refresh failed")
			}
		}

		result := e.server.Push(ctx, PushRequest{
			ShopId:          entry.ShopId,
			EntityType:      entry.EntityType,
			Action:          entry.Action,
			Payload:         entry.Payload,
			IdempotencyKey:  entry.IdempotencyKey,
			BaseUpdatedAtMs: entry.BaseUpdatedAtMs,
			Force:           entry.Force,
		})

		var stop bool
		switch result.Outcome {
		case OutcomeSuccess:
			if err := e.handleSuccess(ctx, entry); err != nil {
				cycleErr = err
				stop = true
			} else {
				successes++
				e.consecutiveTransient = 0
			}
		case OutcomeConflict:
			if err := e.handleConflict(ctx, entry); err != nil {
				cycleErr = err
				stop = true
			}
		case OutcomeRetryable:
			cycleErr = result.Err
			stop = e.handleRetryable(ctx, entry, result)
		case OutcomePermanent:
			cycleErr = result.Err
			if err := e.handlePermanent(ctx, entry, result); err != nil {
				cycleErr = err
			}
		case OutcomeAuth:
			cycleErr = result.Err
			e.handleAuth(ctx, entry, result)
			stop = true
		}

		if stop {
			if i+1 < len(entries) {
				e.unlockEntries(entries[i+1:])
			}
			break
		}
	}

	var syncedAt *time.Time
	if successes > 0 {
		now := time.Now().UTC()
		syncedAt = &now
	}
	if err := models.TouchSyncRunState(ctx, e.shopId, syncedAt, cycleErr); err != nil {
		config.LogError(e.logger, "syncengine", "drainOnce", "record run state", nil, err)
	}

	if cycleErr == nil {
		e.consecutiveTransient = 0
		_ = models.ClearPause(ctx, e.shopId)
	}

	e.logger.WithFields(logrus.Fields{
		"shopId":       e.shopId,
		"claimed":      len(entries),
		"successes":    successes,
		"pendingGauge": models.PendingGauge(),
	}).Info("drain cycle finished")
}

// claimBatch selects at most one entry per entity: strictly the oldest queued
// mutation for that entity, and only when nothing blocks it. A dead head, a
// backoff window, a live lock or an unresolved conflict on the entity all
// block the whole lane; later entries for that entity never jump the queue.
func (e *DrainEngine) claimBatch(ctx context.Context) ([]models.QueueEntry, error) {
	db := config.GetDB().WithContext(ctx)
	now := time.Now().UTC()
	staleBefore := now.Add(-e.lockTTL)

	var all []models.QueueEntry
	if err := db.
		Where("shop_id = ?", e.shopId).
		Order("id ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}

	type laneKey struct {
		entityType models.EntityType
		entityId   string
	}
	seen := map[laneKey]bool{}
	var claimed []models.QueueEntry

	for _, entry := range all {
		lane := laneKey{entry.EntityType, entry.TargetEntityId}
		if seen[lane] {
			continue
		}
		seen[lane] = true

		if entry.Dead {
			continue
		}
		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(now) {
			continue
		}
		if entry.LockedAt != nil && entry.LockedAt.After(staleBefore) {
			continue
		}
		status, err := models.GetEntitySyncStatus(ctx, entry.EntityType, entry.TargetEntityId)
		if err == nil && status == models.SyncStatusConflict {
			continue
		}

		claimed = append(claimed, entry)
		if len(claimed) >= e.batchSize {
			break
		}
	}

	if len(claimed) == 0 {
		return nil, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, entry := range claimed {
			if err := models.ClaimQueueEntry(tx, entry.ID, e.workerId, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// handleSuccess removes the acknowledged entry and settles the entity mirror
// in one transaction. The entity only flips to synced when no later mutation
// for it is still queued.
func (e *DrainEngine) handleSuccess(ctx context.Context, entry models.QueueEntry) error {
	db := config.GetDB().WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := models.DeleteQueueEntryRow(tx, entry); err != nil {
			return err
		}
		if entry.Action == models.SyncActionDelete {
			return models.DeleteEntityRow(tx, entry.EntityType, entry.TargetEntityId)
		}

		var remaining int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("entity_type = ? AND target_entity_id = ?", entry.EntityType, entry.TargetEntityId).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		return models.MarkEntitySynced(tx, entry.EntityType, entry.TargetEntityId)
	})
	if err != nil {
		config.LogError(e.logger, "syncengine", "handleSuccess", "settle entry", map[string]interface{}{"entryId": entry.ID}, err)
		return err
	}
	models.RefreshPendingGauge(ctx, entry.ShopId)

	change := models.EntityChange{
		ShopId:     entry.ShopId,
		EntityType: entry.EntityType,
		EntityId:   entry.TargetEntityId,
		Status:     models.SyncStatusSynced,
		Action:     entry.Action,
	}
	models.NotifyEntityChange(change)
	if e.publisher != nil {
		e.publisher.PublishEntityChanged(ctx, change)
	}
	return nil
}

// handleConflict retires the entry and parks the entity in conflict. Later
// queued mutations for the entity stay in the queue but stop being claimed
// until the operator resolves; the resolver decides their fate.
func (e *DrainEngine) handleConflict(ctx context.Context, entry models.QueueEntry) error {
	db := config.GetDB().WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := models.DeleteQueueEntryRow(tx, entry); err != nil {
			return err
		}
		return models.MarkEntityConflict(tx, entry.EntityType, entry.TargetEntityId, entry.Action)
	})
	if err != nil {
		config.LogError(e.logger, "syncengine", "handleConflict", "mark conflict", map[string]interface{}{"entryId": entry.ID}, err)
		return err
	}
	models.RefreshPendingGauge(ctx, entry.ShopId)

	e.logger.WithFields(logrus.Fields{
		"entityType": entry.EntityType,
		"entityId":   entry.TargetEntityId,
		"action":     entry.Action,
	}).Warn("server rejected mutation as conflicted; manual resolution required")

	models.NotifyEntityChange(models.EntityChange{
		ShopId:     entry.ShopId,
		EntityType: entry.EntityType,
		EntityId:   entry.TargetEntityId,
		Status:     models.SyncStatusConflict,
		Action:     entry.Action,
	})
	return nil
}

// handleRetryable schedules the entry for a later attempt. Transient failures
// never kill an entry; they do trip the circuit breaker when they pile up.
// Returns true only on transport failure: an unreachable server would fail the
// rest of the batch the same way, while a 5xx or 429 is per-request and the
// other entities' lanes still deserve their turn this cycle.
func (e *DrainEngine) handleRetryable(ctx context.Context, entry models.QueueEntry, result PushResult) bool {
	attempts := entry.Attempts + 1
	next := time.Now().UTC().Add(e.retry.backoffFor(attempts))
	if err := models.MarkQueueEntryFailed(config.GetDB().WithContext(ctx), entry.ID, attempts, &next, result.Err); err != nil {
		config.LogError(e.logger, "syncengine", "handleRetryable", "record failure", map[string]interface{}{"entryId": entry.ID}, err)
	}

	// A transport-level failure means the server is unreachable, not merely
	// unhappy; let the observer know so the UI reflects it.
	unreachable := result.StatusCode == 0
	if unreachable {
		e.connectivity.SetOnline(false)
	}

	e.consecutiveTransient++
	e.logger.WithFields(logrus.Fields{
		"entryId":     entry.ID,
		"attempts":    attempts,
		"nextAttempt": next.Format(time.RFC3339),
		"consecutive": e.consecutiveTransient,
		"error":       result.Err.Error(),
	}).Warn("push failed; will retry")

	if e.consecutiveTransient >= e.retry.PauseAfterFailures {
		e.consecutiveTransient = 0
		if err := models.SetPause(ctx, e.shopId, "repeated sync failures", e.retry.PauseTTL); err != nil {
			config.LogError(e.logger, "syncengine", "handleRetryable", "set pause", nil, err)
		} else {
			e.logger.WithFields(logrus.Fields{
				"ttl": e.retry.PauseTTL.String(),
			}).Warn("sync paused after repeated failures")
		}
		return true
	}
	return unreachable
}

// handlePermanent burns one attempt of the bounded budget for mutations the
// server refuses outright; on exhaustion the entry is parked dead and kept
// for inspection.
func (e *DrainEngine) handlePermanent(ctx context.Context, entry models.QueueEntry, result PushResult) error {
	db := config.GetDB().WithContext(ctx)
	attempts := entry.Attempts + 1

	if attempts >= e.retry.MaxPermanentAttempts {
		if err := models.MarkQueueEntryDead(db, entry, attempts, result.Err); err != nil {
			config.LogError(e.logger, "syncengine", "handlePermanent", "park dead", map[string]interface{}{"entryId": entry.ID}, err)
			return err
		}
		models.RefreshPendingGauge(ctx, entry.ShopId)
		e.logger.WithFields(logrus.Fields{
			"entryId":    entry.ID,
			"entityType": entry.EntityType,
			"entityId":   entry.TargetEntityId,
			"attempts":   attempts,
			"error":      result.Err.Error(),
		}).Error("mutation moved to dead letter queue")
		return nil
	}

	next := time.Now().UTC().Add(e.retry.backoffFor(attempts))
	if err := models.MarkQueueEntryFailed(db, entry.ID, attempts, &next, result.Err); err != nil {
		config.LogError(e.logger, "syncengine", "handlePermanent", "record failure", map[string]interface{}{"entryId": entry.ID}, err)
		return err
	}
	return nil
}

// handleAuth pauses the whole engine. Hammering a backend that rejects our
// credentials only risks a lockout; a human has to re-authenticate first.
func (e *DrainEngine) handleAuth(ctx context.Context, entry models.QueueEntry, result PushResult) {
	attempts := entry.Attempts + 1
	next := time.Now().UTC().Add(e.retry.backoffFor(attempts))
	if err := models.MarkQueueEntryFailed(config.GetDB().WithContext(ctx), entry.ID, attempts, &next, result.Err); err != nil {
		config.LogError(e.logger, "syncengine", "handleAuth", "record failure", map[string]interface{}{"entryId": entry.ID}, err)
	}
	if err := models.SetPause(ctx, e.shopId, "authentication failure", e.retry.AuthPauseTTL); err != nil {
		config.LogError(e.logger, "syncengine", "handleAuth", "set pause", nil, err)
	}
	e.logger.WithFields(logrus.Fields{
		"entryId": entry.ID,
		"status":  result.StatusCode,
	}).Error("authentication failed; sync paused until credentials are fixed")
}

func (e *DrainEngine) unlockEntries(entries []models.QueueEntry) {
	db := config.GetDB()
	for _, entry := range entries {
		err := db.Model(&models.QueueEntry{}).
			Where("id = ? AND locked_by = ?", entry.ID, e.workerId).
			Updates(map[string]interface{}{"locked_at": nil, "locked_by": nil}).Error
		if err != nil {
			config.LogError(e.logger, "syncengine", "unlockEntries", "release lock", map[string]interface{}{"entryId": entry.ID}, err)
		}
	}
}
