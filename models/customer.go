package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID             string          `gorm:"primary_key;size:64" json:"id"`
	ShopId         string          `gorm:"size:64;not null;index" json:"shop_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Phone          string          `gorm:"size:64" json:"phone"`
	Mobile         string          `gorm:"size:64" json:"mobile"`
	Email          string          `gorm:"size:255" json:"email"`
	DueBalance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"due_balance"`
	Notes          string          `gorm:"type:text" json:"notes"`
	SyncStatus     SyncStatus      `gorm:"size:10;not null;index" json:"sync_status"`
	ConflictAction *SyncAction     `gorm:"size:10" json:"conflict_action"`
	UpdatedAtMs    int64           `gorm:"not null;default:0" json:"updated_at_ms"`
	DeletedAtMs    *int64          `json:"deleted_at_ms"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name       string          `json:"name" validate:"required"`
	Phone      string          `json:"phone"`
	Mobile     string          `json:"mobile"`
	Email      string          `json:"email" validate:"omitempty,email"`
	DueBalance decimal.Decimal `json:"due_balance"`
	Notes      string          `json:"notes"`
}

func (input *NewCustomer) apply(customer *Customer) {
	customer.Name = input.Name
	customer.Phone = utils.NormalizePhone(input.Phone)
	customer.Mobile = utils.NormalizePhone(input.Mobile)
	customer.Email = input.Email
	customer.DueBalance = input.DueBalance
	customer.Notes = input.Notes
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	customer := &Customer{
		ID:          uuid.NewString(),
		ShopId:      shopId,
		SyncStatus:  SyncStatusNew,
		UpdatedAtMs: NowMs(),
	}
	input.apply(customer)

	if err := createEntity(ctx, EntityTypeCustomer, customer, customer.ID, shopId); err != nil {
		return nil, err
	}
	return customer, nil
}

func UpdateCustomer(ctx context.Context, id string, input *NewCustomer) (*Customer, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	customer, err := getEntity[Customer](ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := customer.SyncStatus
	prevUpdatedAtMs := customer.UpdatedAtMs
	input.apply(customer)
	customer.UpdatedAtMs = NowMs()

	nextStatus, err := updateEntity(ctx, EntityTypeCustomer, customer, customer.ID, shopId, prevStatus, prevUpdatedAtMs)
	if err != nil {
		return nil, err
	}
	customer.SyncStatus = nextStatus
	return customer, nil
}

// AddCustomerDue applies a due-sale (positive) or repayment (negative) to the
// customer ledger. The server re-derives the balance from its own ledger; the
// queued update only states what this device believes, which is exactly what
// the divergence check is for.
func AddCustomerDue(ctx context.Context, id string, amount decimal.Decimal) (*Customer, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	customer, err := getEntity[Customer](ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := customer.SyncStatus
	prevUpdatedAtMs := customer.UpdatedAtMs
	customer.DueBalance = customer.DueBalance.Add(amount)
	customer.UpdatedAtMs = NowMs()

	nextStatus, err := updateEntity(ctx, EntityTypeCustomer, customer, customer.ID, shopId, prevStatus, prevUpdatedAtMs)
	if err != nil {
		return nil, err
	}
	customer.SyncStatus = nextStatus
	return customer, nil
}

func DeleteCustomer(ctx context.Context, id string) error {
	return deleteEntity(ctx, EntityTypeCustomer, id)
}

func GetCustomer(ctx context.Context, id string) (*Customer, error) {
	return getEntity[Customer](ctx, id)
}

func ListCustomers(ctx context.Context, shopId string) ([]Customer, error) {
	return listEntities[Customer](ctx, shopId)
}
