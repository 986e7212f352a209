package models

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"gorm.io/gorm"
)

func shopIdFromContext(ctx context.Context) (string, error) {
	shopId, ok := utils.GetShopIdFromContext(ctx)
	if !ok || shopId == "" {
		return "", errors.New("shop id is required")
	}
	return shopId, nil
}

// createEntity inserts the row and appends the create mutation in one local
// transaction. The row arrives with ID, ShopId, SyncStatus=new and UpdatedAtMs
// already stamped by the typed constructor.
func createEntity[T any](ctx context.Context, entityType EntityType, row *T, entityId string, shopId string) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = EnqueueMutation(tx, shopId, entityType, SyncActionCreate, entityId, payload, 0, false)
		return err
	})
	if err != nil {
		return err
	}
	RefreshPendingGauge(ctx, shopId)
	notifyEntityChange(EntityChange{
		ShopId:     shopId,
		EntityType: entityType,
		EntityId:   entityId,
		Status:     SyncStatusNew,
		Action:     SyncActionCreate,
	})
	return nil
}

// updateEntity saves the mutated row and appends the update mutation.
// prevUpdatedAtMs is the logical timestamp before this edit; the server uses
// it as the optimistic base for divergence detection. prevStatus decides
// whether the entity stays `new` (its create has not been sent yet) or
// becomes `updated`.
func updateEntity[T any](ctx context.Context, entityType EntityType, row *T, entityId string, shopId string, prevStatus SyncStatus, prevUpdatedAtMs int64) (SyncStatus, error) {
	if prevStatus == SyncStatusConflict {
		return prevStatus, utils.ErrorEntityConflicted
	}
	nextStatus := SyncStatusUpdated
	if prevStatus == SyncStatusNew {
		nextStatus = SyncStatusNew
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		table, err := tableForEntityType(entityType)
		if err != nil {
			return err
		}
		if err := tx.Table(table).
			Where("id = ?", entityId).
			Update("sync_status", nextStatus).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = EnqueueMutation(tx, shopId, entityType, SyncActionUpdate, entityId, payload, prevUpdatedAtMs, false)
		return err
	})
	if err != nil {
		return prevStatus, err
	}
	RefreshPendingGauge(ctx, shopId)
	notifyEntityChange(EntityChange{
		ShopId:     shopId,
		EntityType: entityType,
		EntityId:   entityId,
		Status:     nextStatus,
		Action:     SyncActionUpdate,
	})
	return nextStatus, nil
}

// deleteEntity cancels still-pending mutations for the entity and, unless an
// unsent create was among them, marks the row deleted and queues the delete.
// An entity the server never saw is simply dropped locally.
func deleteEntity(ctx context.Context, entityType EntityType, entityId string) error {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return err
	}

	status, err := GetEntitySyncStatus(ctx, entityType, entityId)
	if err != nil {
		return err
	}
	if status == SyncStatusConflict {
		return utils.ErrorEntityConflicted
	}

	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}

	var prevUpdatedAtMs int64
	if err := config.GetDB().WithContext(ctx).
		Table(table).
		Select("updated_at_ms").
		Where("id = ?", entityId).
		Scan(&prevUpdatedAtMs).Error; err != nil {
		return err
	}

	now := NowMs()
	dropped := false
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, hadPendingCreate, err := CancelQueuedMutations(tx, entityType, entityId)
		if err != nil {
			return err
		}
		if hadPendingCreate {
			dropped = true
			return DeleteEntityRow(tx, entityType, entityId)
		}
		if err := tx.Table(table).
			Where("id = ?", entityId).
			Updates(map[string]interface{}{
				"sync_status":   SyncStatusDeleted,
				"deleted_at_ms": now,
				"updated_at_ms": now,
			}).Error; err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]interface{}{"id": entityId, "shop_id": shopId})
		if err != nil {
			return err
		}
		_, err = EnqueueMutation(tx, shopId, entityType, SyncActionDelete, entityId, payload, prevUpdatedAtMs, false)
		return err
	})
	if err != nil {
		return err
	}
	RefreshPendingGauge(ctx, shopId)

	nextStatus := SyncStatusDeleted
	if dropped {
		nextStatus = SyncStatusSynced
	}
	notifyEntityChange(EntityChange{
		ShopId:     shopId,
		EntityType: entityType,
		EntityId:   entityId,
		Status:     nextStatus,
		Action:     SyncActionDelete,
	})
	return nil
}

func getEntity[T any](ctx context.Context, entityId string) (*T, error) {
	var row T
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", entityId).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func listEntities[T any](ctx context.Context, shopId string) ([]T, error) {
	var rows []T
	err := config.GetDB().WithContext(ctx).
		Where("shop_id = ? AND sync_status <> ?", shopId, SyncStatusDeleted).
		Order("updated_at_ms DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
