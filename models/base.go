package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/utils"
	"gorm.io/gorm"
)

// SyncStatus is the mirror state of a local entity relative to the server.
type SyncStatus string

const (
	SyncStatusNew      SyncStatus = "new"
	SyncStatusUpdated  SyncStatus = "updated"
	SyncStatusDeleted  SyncStatus = "deleted"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncAction is the kind of mutation queued against an entity.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

type EntityType string

const (
	EntityTypeProduct   EntityType = "product"
	EntityTypeExpense   EntityType = "expense"
	EntityTypeCashEntry EntityType = "cash_entry"
	EntityTypeCustomer  EntityType = "customer"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// NowMs is the client logical timestamp stamped on every local write.
// Milliseconds, compared against the server's stored value on every push.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

func tableForEntityType(entityType EntityType) (string, error) {
	switch entityType {
	case EntityTypeProduct:
		return "products", nil
	case EntityTypeExpense:
		return "expenses", nil
	case EntityTypeCashEntry:
		return "cash_entries", nil
	case EntityTypeCustomer:
		return "customers", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
}

// MarkEntitySynced flips an entity to synced after the server acknowledged its
// mutation. Runs inside the same transaction that removes the queue entry.
func MarkEntitySynced(tx *gorm.DB, entityType EntityType, entityId string) error {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}
	return tx.Table(table).
		Where("id = ?", entityId).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusSynced,
			"conflict_action": nil,
		}).Error
}

// MarkEntityConflict records server divergence on the entity. The conflict
// state is terminal for the drain engine; only the resolver clears it.
func MarkEntityConflict(tx *gorm.DB, entityType EntityType, entityId string, attempted SyncAction) error {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}
	conflictAction := SyncActionUpdate
	if attempted == SyncActionDelete {
		conflictAction = SyncActionDelete
	}
	return tx.Table(table).
		Where("id = ?", entityId).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusConflict,
			"conflict_action": conflictAction,
		}).Error
}

func GetEntitySyncStatus(ctx context.Context, entityType EntityType, entityId string) (SyncStatus, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return "", err
	}
	var status SyncStatus
	err = config.GetDB().WithContext(ctx).
		Table(table).
		Select("sync_status").
		Where("id = ?", entityId).
		Scan(&status).Error
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", utils.ErrorRecordNotFound
	}
	return status, nil
}

// DeleteEntityRow removes the local mirror row. Used when the server confirms
// a delete, or when resolveUseServer learns the entity is gone server-side.
func DeleteEntityRow(tx *gorm.DB, entityType EntityType, entityId string) error {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}
	return tx.Table(table).Where("id = ?", entityId).Delete(nil).Error
}

// ApplyServerSnapshot overwrites the local copy with the server's version and
// marks it synced. force must be true to touch a conflicted entity: background
// refreshes pass false and are rejected so an unresolved conflict is never
// silently overwritten.
func ApplyServerSnapshot(tx *gorm.DB, entityType EntityType, entityId string, snapshot []byte, force bool) error {
	if !force {
		table, err := tableForEntityType(entityType)
		if err != nil {
			return err
		}
		var status SyncStatus
		if err := tx.Table(table).
			Select("sync_status").
			Where("id = ?", entityId).
			Scan(&status).Error; err != nil {
			return err
		}
		if status == SyncStatusConflict {
			return utils.ErrorEntityConflicted
		}
	}

	table, err := tableForEntityType(entityType)
	if err != nil {
		return err
	}
	switch entityType {
	case EntityTypeProduct:
		return applySnapshot[Product](tx, table, entityId, snapshot)
	case EntityTypeExpense:
		return applySnapshot[Expense](tx, table, entityId, snapshot)
	case EntityTypeCashEntry:
		return applySnapshot[CashEntry](tx, table, entityId, snapshot)
	case EntityTypeCustomer:
		return applySnapshot[Customer](tx, table, entityId, snapshot)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
}

func applySnapshot[T any](tx *gorm.DB, table string, entityId string, snapshot []byte) error {
	var row T
	if err := json.Unmarshal(snapshot, &row); err != nil {
		return fmt.Errorf("decode server snapshot: %w", err)
	}
	if err := tx.Save(&row).Error; err != nil {
		return err
	}
	// The snapshot never carries device-side bookkeeping; flip it explicitly.
	return tx.Table(table).
		Where("id = ?", entityId).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusSynced,
			"conflict_action": nil,
		}).Error
}
