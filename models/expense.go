package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Expense struct {
	ID             string          `gorm:"primary_key;size:64" json:"id"`
	ShopId         string          `gorm:"size:64;not null;index" json:"shop_id"`
	ExpenseDate    time.Time       `gorm:"not null" json:"expense_date"`
	Category       string          `gorm:"size:255;not null" json:"category"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	PaidVia        string          `gorm:"size:64" json:"paid_via"`
	ReferenceNo    string          `gorm:"size:255" json:"reference_no"`
	Notes          string          `gorm:"type:text" json:"notes"`
	SyncStatus     SyncStatus      `gorm:"size:10;not null;index" json:"sync_status"`
	ConflictAction *SyncAction     `gorm:"size:10" json:"conflict_action"`
	UpdatedAtMs    int64           `gorm:"not null;default:0" json:"updated_at_ms"`
	DeletedAtMs    *int64          `json:"deleted_at_ms"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewExpense struct {
	ExpenseDate time.Time       `json:"expense_date" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	PaidVia     string          `json:"paid_via"`
	ReferenceNo string          `json:"reference_no"`
	Notes       string          `json:"notes"`
}

func (input *NewExpense) apply(expense *Expense) {
	expense.ExpenseDate = input.ExpenseDate
	expense.Category = input.Category
	expense.Amount = input.Amount
	expense.PaidVia = input.PaidVia
	expense.ReferenceNo = input.ReferenceNo
	expense.Notes = input.Notes
}

func CreateExpense(ctx context.Context, input *NewExpense) (*Expense, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	expense := &Expense{
		ID:          uuid.NewString(),
		ShopId:      shopId,
		SyncStatus:  SyncStatusNew,
		UpdatedAtMs: NowMs(),
	}
	input.apply(expense)

	if err := createEntity(ctx, EntityTypeExpense, expense, expense.ID, shopId); err != nil {
		return nil, err
	}
	return expense, nil
}

func UpdateExpense(ctx context.Context, id string, input *NewExpense) (*Expense, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	expense, err := getEntity[Expense](ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := expense.SyncStatus
	prevUpdatedAtMs := expense.UpdatedAtMs
	input.apply(expense)
	expense.UpdatedAtMs = NowMs()

	nextStatus, err := updateEntity(ctx, EntityTypeExpense, expense, expense.ID, shopId, prevStatus, prevUpdatedAtMs)
	if err != nil {
		return nil, err
	}
	expense.SyncStatus = nextStatus
	return expense, nil
}

func DeleteExpense(ctx context.Context, id string) error {
	return deleteEntity(ctx, EntityTypeExpense, id)
}

func GetExpense(ctx context.Context, id string) (*Expense, error) {
	return getEntity[Expense](ctx, id)
}

func ListExpenses(ctx context.Context, shopId string) ([]Expense, error) {
	return listEntities[Expense](ctx, shopId)
}
