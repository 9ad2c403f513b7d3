package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog parent grouping sellable variants.
type Product struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Category  *string          `gorm:"column:category"`
	IsActive  bool             `gorm:"column:is_active;not null;default:true"`
	Variants  []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductVariant is the sellable SKU priced in integer cents.
type ProductVariant struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	SKU            string    `gorm:"column:sku;not null;uniqueIndex"`
	Name           string    `gorm:"column:name;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	TaxRateBps     int       `gorm:"column:tax_rate_bps;not null;default:0"`
	IsSet          bool      `gorm:"column:is_set;not null;default:false"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// VariantPrice is an append-only price-effective record. The newest row
// whose effective_from has passed wins; older rows are never rewritten.
type VariantPrice struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID      uuid.UUID `gorm:"column:variant_id;type:uuid;not null;index:idx_variant_prices_effective"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	EffectiveFrom  time.Time `gorm:"column:effective_from;not null;index:idx_variant_prices_effective"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
