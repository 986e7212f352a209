package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"gorm.io/gorm"
)

// PauseState is the persisted circuit breaker. A page reload or daemon restart
// must not bypass a pause, so it lives in the local store, not in memory.
// Singleton row per shop.
type PauseState struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ShopId    string    `gorm:"size:64;not null;uniqueIndex" json:"shop_id"`
	Until     time.Time `gorm:"not null" json:"until"`
	Reason    string    `gorm:"size:255;not null" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func SetPause(ctx context.Context, shopId string, reason string, ttl time.Duration) error {
	db := config.GetDB().WithContext(ctx)
	until := time.Now().UTC().Add(ttl)

	var existing PauseState
	err := db.Where("shop_id = ?", shopId).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&PauseState{ShopId: shopId, Until: until, Reason: reason}).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&PauseState{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"until":  until,
			"reason": reason,
		}).Error
}

// GetPause returns the active pause, or nil once it has expired. An expired
// row is deleted on read so the breaker self-resets without a sweeper.
func GetPause(ctx context.Context, shopId string) (*PauseState, error) {
	db := config.GetDB().WithContext(ctx)

	var pause PauseState
	err := db.Where("shop_id = ?", shopId).Take(&pause).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !pause.Until.After(time.Now().UTC()) {
		_ = db.Delete(&PauseState{}, pause.ID).Error
		return nil, nil
	}
	return &pause, nil
}

func ClearPause(ctx context.Context, shopId string) error {
	return config.GetDB().WithContext(ctx).
		Where("shop_id = ?", shopId).
		Delete(&PauseState{}).Error
}
