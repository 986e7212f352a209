package models

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueEntry is one pending mutation in the durable offline queue. Entries are
// append-only from the UI side; once enqueued they belong to the drain engine.
// Dead entries stay queryable until an operator or the resolver removes them.
type QueueEntry struct {
	ID              int        `gorm:"primary_key" json:"id"`
	ShopId          string     `gorm:"size:64;not null;index" json:"shop_id"`
	EntityType      EntityType `gorm:"size:20;not null;index:idx_queue_target,priority:1" json:"entity_type"`
	TargetEntityId  string     `gorm:"size:64;not null;index:idx_queue_target,priority:2" json:"target_entity_id"`
	Action          SyncAction `gorm:"size:10;not null" json:"action"`
	Payload         []byte     `gorm:"type:blob" json:"payload"`
	IdempotencyKey  string     `gorm:"size:64;not null;uniqueIndex" json:"idempotency_key"`
	BaseUpdatedAtMs int64      `gorm:"not null;default:0" json:"base_updated_at_ms"`
	Force           bool       `gorm:"not null;default:false" json:"force"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	Dead            bool       `gorm:"not null;default:false;index" json:"dead"`
	LastError       *string    `gorm:"type:text" json:"last_error"`
	NextAttemptAt   *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt        *time.Time `gorm:"index" json:"locked_at"`
	LockedBy        *string    `gorm:"size:100" json:"locked_by"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// pendingGauge mirrors the pending count for cheap UI polling. It is a hint;
// the authoritative numbers always come from PendingQueueCount.
var pendingGauge int64

func PendingGauge() int64 {
	return atomic.LoadInt64(&pendingGauge)
}

// RefreshPendingGauge recomputes the gauge and its redis mirror from the
// store. Called on startup and after any committed transaction that touched
// the queue, never from inside one: a rollback must not leave a stale count
// behind.
func RefreshPendingGauge(ctx context.Context, shopId string) {
	count, err := PendingQueueCount(ctx, shopId)
	if err != nil {
		return
	}
	atomic.StoreInt64(&pendingGauge, count)
	_ = config.SetRedisValue("possync:pending:"+shopId, strconv.FormatInt(count, 10), 0)
}

// EnqueueMutation appends one mutation to the queue. It MUST be called inside
// the same transaction as the entity write that produced the mutation; the two
// commit or roll back together, so the store and the queue cannot diverge.
func EnqueueMutation(tx *gorm.DB, shopId string, entityType EntityType, action SyncAction, targetEntityId string, payload []byte, baseUpdatedAtMs int64, force bool) (int, error) {
	entry := QueueEntry{
		ShopId:          shopId,
		EntityType:      entityType,
		TargetEntityId:  targetEntityId,
		Action:          action,
		Payload:         payload,
		IdempotencyKey:  uuid.NewString(),
		BaseUpdatedAtMs: baseUpdatedAtMs,
		Force:           force,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// RemoveQueueEntriesFor deletes all entries for one entity, returning the
// count removed. Dead entries are removed too: callers are the
// delete-cancellation path and the conflict resolver, both of which supersede
// whatever the old entries were trying to say.
func RemoveQueueEntriesFor(tx *gorm.DB, entityType EntityType, targetEntityId string) (int, error) {
	res := tx.
		Where("entity_type = ? AND target_entity_id = ?", entityType, targetEntityId).
		Delete(&QueueEntry{})
	return int(res.RowsAffected), res.Error
}

// CancelQueuedMutations removes still-pending entries for an entity that is
// being deleted while offline. Reports whether an unsent create was among
// them: in that case the entity never reached the server and no delete needs
// to be queued at all.
func CancelQueuedMutations(tx *gorm.DB, entityType EntityType, targetEntityId string) (removed int, hadPendingCreate bool, err error) {
	var entries []QueueEntry
	if err := tx.
		Where("entity_type = ? AND target_entity_id = ?", entityType, targetEntityId).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return 0, false, err
	}
	for _, entry := range entries {
		if entry.Action == SyncActionCreate {
			hadPendingCreate = true
		}
		if err := tx.Delete(&QueueEntry{}, entry.ID).Error; err != nil {
			return removed, hadPendingCreate, err
		}
		removed++
	}
	return removed, hadPendingCreate, nil
}

// ListPendingQueueEntries returns non-dead entries in enqueue order. Safe to
// re-list after a crash; ordering comes from the autoincrement id.
func ListPendingQueueEntries(ctx context.Context, entityType *EntityType) ([]QueueEntry, error) {
	db := config.GetDB().WithContext(ctx).
		Where("dead = ?", false).
		Order("id ASC")
	if entityType != nil {
		db = db.Where("entity_type = ?", *entityType)
	}
	var entries []QueueEntry
	if err := db.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListDeadQueueEntries returns entries that exhausted their retry budget.
func ListDeadQueueEntries(ctx context.Context, shopId string) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := config.GetDB().WithContext(ctx).
		Where("shop_id = ? AND dead = ?", shopId, true).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func PendingQueueCount(ctx context.Context, shopId string) (int64, error) {
	var count int64
	err := config.GetDB().WithContext(ctx).
		Model(&QueueEntry{}).
		Where("shop_id = ? AND dead = ?", shopId, false).
		Count(&count).Error
	return count, err
}

func DeadQueueCount(ctx context.Context, shopId string) (int64, error) {
	var count int64
	err := config.GetDB().WithContext(ctx).
		Model(&QueueEntry{}).
		Where("shop_id = ? AND dead = ?", shopId, true).
		Count(&count).Error
	return count, err
}

// DeleteQueueEntryRow removes a single entry after a confirmed push or a
// conflict mark.
func DeleteQueueEntryRow(tx *gorm.DB, entry QueueEntry) error {
	return tx.Delete(&QueueEntry{}, entry.ID).Error
}

// ClaimQueueEntry stamps the drain engine's lock on an entry before sending.
func ClaimQueueEntry(tx *gorm.DB, entryId int, workerId string, now time.Time) error {
	return tx.Model(&QueueEntry{}).
		Where("id = ?", entryId).
		Updates(map[string]interface{}{
			"locked_at": &now,
			"locked_by": &workerId,
		}).Error
}

// MarkQueueEntryFailed records a failed send: attempt counter, backoff window,
// last error, lock released. The entry stays pending.
func MarkQueueEntryFailed(tx *gorm.DB, entryId int, attempts int, nextAttemptAt *time.Time, sendErr error) error {
	var errMsg *string
	if sendErr != nil {
		msg := sendErr.Error()
		errMsg = &msg
	}
	return tx.Model(&QueueEntry{}).
		Where("id = ?", entryId).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      errMsg,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

// MarkQueueEntryDead parks an entry that exhausted its retry budget. The row
// stays queryable for diagnostics; only a successful push, an explicit
// cancellation or conflict resolution may remove it.
func MarkQueueEntryDead(tx *gorm.DB, entry QueueEntry, attempts int, sendErr error) error {
	var errMsg *string
	if sendErr != nil {
		msg := sendErr.Error()
		errMsg = &msg
	}
	return tx.Model(&QueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"dead":            true,
			"attempts":        attempts,
			"last_error":      errMsg,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

// DecodePayload unmarshals the queued entity snapshot for diagnostics.
func (q QueueEntry) DecodePayload() (map[string]interface{}, error) {
	var out map[string]interface{}
	if len(q.Payload) == 0 {
		return nil, nil
	}
	if err := utils.UnmarshalFromJSON(q.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
