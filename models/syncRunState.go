package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"gorm.io/gorm"
)

// SyncRunState records the last drain outcome so the status surface survives
// restarts. One row per shop.
type SyncRunState struct {
	ID         int        `gorm:"primary_key" json:"id"`
	ShopId     string     `gorm:"size:64;not null;uniqueIndex" json:"shop_id"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	LastError  *string    `gorm:"type:text" json:"last_error"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSyncRunState(ctx context.Context, shopId string) (*SyncRunState, error) {
	var state SyncRunState
	err := config.GetDB().WithContext(ctx).
		Where("shop_id = ?", shopId).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func TouchSyncRunState(ctx context.Context, shopId string, syncedAt *time.Time, lastErr error) error {
	db := config.GetDB().WithContext(ctx)

	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}

	var existing SyncRunState
	err := db.Where("shop_id = ?", shopId).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&SyncRunState{ShopId: shopId, LastSyncAt: syncedAt, LastError: errMsg}).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"last_error": errMsg}
	if syncedAt != nil {
		updates["last_sync_at"] = syncedAt
	}
	return db.Model(&SyncRunState{}).Where("id = ?", existing.ID).Updates(updates).Error
}
