package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"gorm.io/gorm"
)

// ErrNotConflicted is returned when a resolution is requested for an entity
// that is not actually in conflict.
var ErrNotConflicted = errors.New("entity is not in conflict")

// ResolveWithServerSnapshot settles a conflict in the server's favour. All
// queued mutations for the entity are discarded and the local row is replaced
// by the snapshot, or removed entirely when the server no longer has the
// entity. One transaction: the queue and the mirror settle together.
func ResolveWithServerSnapshot(ctx context.Context, entityType EntityType, entityId string, snapshot []byte, foundOnServer bool) error {
	db := config.GetDB().WithContext(ctx)

	status, err := GetEntitySyncStatus(ctx, entityType, entityId)
	if err != nil {
		return err
	}
	if status != SyncStatusConflict {
		return ErrNotConflicted
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := RemoveQueueEntriesFor(tx, entityType, entityId); err != nil {
			return err
		}
		if !foundOnServer {
			return DeleteEntityRow(tx, entityType, entityId)
		}
		return ApplyServerSnapshot(tx, entityType, entityId, snapshot, true)
	})
	if err != nil {
		return err
	}

	shopId, _ := utils.GetShopIdFromContext(ctx)
	if shopId != "" {
		RefreshPendingGauge(ctx, shopId)
	}
	resolvedStatus := SyncStatusSynced
	resolvedAction := SyncActionUpdate
	if !foundOnServer {
		resolvedStatus = SyncStatusDeleted
		resolvedAction = SyncActionDelete
	}
	notifyEntityChange(EntityChange{
		ShopId:     shopId,
		EntityType: entityType,
		EntityId:   entityId,
		Status:     resolvedStatus,
		Action:     resolvedAction,
	})
	return nil
}

// ResolveKeepLocalEntity settles a conflict in the device's favour. The local
// version is re-stamped with a fresh client timestamp and re-enqueued with
// force set, so the next drain overrides whatever the server has. Works fully
// offline; the forced mutation just waits in the queue like any other.
func ResolveKeepLocalEntity(ctx context.Context, entityType EntityType, entityId string) error {
	db := config.GetDB().WithContext(ctx)
	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}

	status, err := GetEntitySyncStatus(ctx, entityType, entityId)
	if err != nil {
		return err
	}
	if status != SyncStatusConflict {
		return ErrNotConflicted
	}

	var head struct {
		ShopId         string
		ConflictAction *SyncAction
	}
	if err := db.Table(table).
		Select("shop_id, conflict_action").
		Where("id = ?", entityId).
		Take(&head).Error; err != nil {
		return err
	}

	action := SyncActionUpdate
	if head.ConflictAction != nil && *head.ConflictAction == SyncActionDelete {
		action = SyncActionDelete
	}
	now := NowMs()

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := RemoveQueueEntriesFor(tx, entityType, entityId); err != nil {
			return err
		}

		if action == SyncActionDelete {
			if err := tx.Table(table).
				Where("id = ?", entityId).
				Updates(map[string]interface{}{
					"sync_status":     SyncStatusDeleted,
					"conflict_action": nil,
					"updated_at_ms":   now,
					"deleted_at_ms":   now,
				}).Error; err != nil {
				return err
			}
			payload, err := json.Marshal(map[string]string{"id": entityId, "shop_id": head.ShopId})
			if err != nil {
				return err
			}
			_, err = EnqueueMutation(tx, head.ShopId, entityType, SyncActionDelete, entityId, payload, now, true)
			return err
		}

		if err := tx.Table(table).
			Where("id = ?", entityId).
			Updates(map[string]interface{}{
				"sync_status":     SyncStatusUpdated,
				"conflict_action": nil,
				"updated_at_ms":   now,
			}).Error; err != nil {
			return err
		}
		payload, err := marshalEntityRow(tx, entityType, entityId)
		if err != nil {
			return err
		}
		_, err = EnqueueMutation(tx, head.ShopId, entityType, SyncActionUpdate, entityId, payload, now, true)
		return err
	})
	if err != nil {
		return err
	}
	RefreshPendingGauge(ctx, head.ShopId)

	resolvedStatus := SyncStatusUpdated
	if action == SyncActionDelete {
		resolvedStatus = SyncStatusDeleted
	}
	notifyEntityChange(EntityChange{
		ShopId:     head.ShopId,
		EntityType: entityType,
		EntityId:   entityId,
		Status:     resolvedStatus,
		Action:     action,
	})
	return nil
}

func marshalEntityRow(tx *gorm.DB, entityType EntityType, entityId string) ([]byte, error) {
	switch entityType {
	case EntityTypeProduct:
		return marshalRow[Product](tx, entityId)
	case EntityTypeExpense:
		return marshalRow[Expense](tx, entityId)
	case EntityTypeCashEntry:
		return marshalRow[CashEntry](tx, entityId)
	case EntityTypeCustomer:
		return marshalRow[Customer](tx, entityId)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
}

func marshalRow[T any](tx *gorm.DB, entityId string) ([]byte, error) {
	var row T
	if err := tx.Where("id = ?", entityId).Take(&row).Error; err != nil {
		return nil, err
	}
	return json.Marshal(row)
}
