package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string          `gorm:"primary_key;size:64" json:"id"`
	ShopId         string          `gorm:"size:64;not null;index" json:"shop_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Sku            string          `gorm:"size:255" json:"sku"`
	Barcode        string          `gorm:"size:255" json:"barcode"`
	Description    string          `gorm:"type:text" json:"description"`
	SellPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sell_price"`
	CostPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	TrackInventory *bool           `gorm:"not null;default:false" json:"track_inventory"`
	Active         *bool           `gorm:"not null;default:true" json:"active"`
	SyncStatus     SyncStatus      `gorm:"size:10;not null;index" json:"sync_status"`
	ConflictAction *SyncAction     `gorm:"size:10" json:"conflict_action"`
	UpdatedAtMs    int64           `gorm:"not null;default:0" json:"updated_at_ms"`
	DeletedAtMs    *int64          `json:"deleted_at_ms"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name           string          `json:"name" validate:"required"`
	Sku            string          `json:"sku"`
	Barcode        string          `json:"barcode"`
	Description    string          `json:"description"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	TrackInventory *bool           `json:"track_inventory"`
	Active         *bool           `json:"active"`
}

func (input *NewProduct) apply(product *Product) {
	product.Name = input.Name
	product.Sku = input.Sku
	product.Barcode = input.Barcode
	product.Description = input.Description
	product.SellPrice = input.SellPrice
	product.CostPrice = input.CostPrice
	if input.TrackInventory != nil {
		product.TrackInventory = input.TrackInventory
	}
	if input.Active != nil {
		product.Active = input.Active
	}
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	product := &Product{
		ID:          uuid.NewString(),
		ShopId:      shopId,
		SyncStatus:  SyncStatusNew,
		UpdatedAtMs: NowMs(),
	}
	input.apply(product)

	if err := createEntity(ctx, EntityTypeProduct, product, product.ID, shopId); err != nil {
		return nil, err
	}
	return product, nil
}

func UpdateProduct(ctx context.Context, id string, input *NewProduct) (*Product, error) {
	shopId, err := shopIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	product, err := getEntity[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := product.SyncStatus
	prevUpdatedAtMs := product.UpdatedAtMs
	input.apply(product)
	product.UpdatedAtMs = NowMs()

	nextStatus, err := updateEntity(ctx, EntityTypeProduct, product, product.ID, shopId, prevStatus, prevUpdatedAtMs)
	if err != nil {
		return nil, err
	}
	product.SyncStatus = nextStatus
	return product, nil
}

func DeleteProduct(ctx context.Context, id string) error {
	return deleteEntity(ctx, EntityTypeProduct, id)
}

func GetProduct(ctx context.Context, id string) (*Product, error) {
	return getEntity[Product](ctx, id)
}

func ListProducts(ctx context.Context, shopId string) ([]Product, error) {
	return listEntities[Product](ctx, shopId)
}
