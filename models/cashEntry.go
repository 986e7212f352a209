package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CashDirection string

const (
	CashDirectionIn  CashDirection = "in"
	CashDirectionOut CashDirection = "out"
)

type CashEntry struct {
	ID             string          `gorm:"primary_key;size:64" json:"id"`
	ShopId         string          `gorm:"size:64;not null;index" json:"shop_id"`
	EntryDate      time.Time       `gorm:"not null" json:"entry_date"`
	Direction      CashDirection   `gorm:"size:3;not null" json:"direction"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Reason         string          `gorm:"size:255;not null" json:"reason"`
	Notes          string          `gorm:"type:text" json:"notes"`
	SyncStatus     SyncStatus      `gorm:"size:10;not null;index" json:"sync_status"`
	ConflictAction *SyncAction     `gorm:"size:10" json:"conflict_action"`
	UpdatedAtMs    int64           `gorm:"not null;default:0" json:"updated_at_ms"`
	DeletedAtMs    *int64          `json:"deleted_at_ms"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCashEntry struct {
	EntryDate time.Time       `json:"entry_date" validate:"required"`
	Direction CashDirection   `json:"direction" validate:"required,oneof=in out"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required"`
	Notes     string          `json:"notes"`
}

func (input *NewCashEntry) apply(entry *CashEntry) {
	entry.EntryDate = input.EntryDate
	entry.Direction = input.Direction
	entry.Amount = input.Amount
	entry.Reason = input.Reason
	entry.Notes = input.Notes
}

func CreateCashEntry(ctx context.Context, input *NewCashEntry) (*CashEntry, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	entry := &CashEntry{
		ID:          uuid.NewString(),
		ShopId:      shopId,
		SyncStatus:  SyncStatusNew,
		UpdatedAtMs: NowMs(),
	}
	input.apply(entry)

	if err := createEntity(ctx, EntityTypeCashEntry, entry, entry.ID, shopId); err != nil {
		return nil, err
	}
	return entry, nil
}

func UpdateCashEntry(ctx context.Context, id string, input *NewCashEntry) (*CashEntry, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	entry, err := getEntity[CashEntry](ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := entry.SyncStatus
	prevUpdatedAtMs := entry.UpdatedAtMs
	input.apply(entry)
	entry.UpdatedAtMs = NowMs()

	nextStatus, err := updateEntity(ctx, EntityTypeCashEntry, entry, entry.ID, shopId, prevStatus, prevUpdatedAtMs)
	if err != nil {
		return nil, err
	}
	entry.SyncStatus = nextStatus
	return entry, nil
}

func DeleteCashEntry(ctx context.Context, id string) error {
	return deleteEntity(ctx, EntityTypeCashEntry, id)
}

func GetCashEntry(ctx context.Context, id string) (*CashEntry, error) {
	return getEntity[CashEntry](ctx, id)
}

func ListCashEntries(ctx context.Context, shopId string) ([]CashEntry, error) {
	return listEntities[CashEntry](ctx, shopId)
}
