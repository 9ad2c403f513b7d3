package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// PurchaseOrder is a procurement request raised against a supplier.
type PurchaseOrder struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	SupplierID  uuid.UUID                 `gorm:"column:supplier_id;type:uuid;not null;index"`
	BranchID    uuid.UUID                 `gorm:"column:branch_id;type:uuid;not null"`
	Status      enums.PurchaseOrderStatus `gorm:"column:status;type:purchase_order_status_enum;not null;default:'requested'"`
	ExpectedAt  *time.Time                `gorm:"column:expected_at"`
	ClosedAt    *time.Time                `gorm:"column:closed_at"`
	ActorUserID *uuid.UUID                `gorm:"column:actor_user_id;type:uuid"`
	Items       []PurchaseItem            `gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE"`
	Receipts    []GoodsReceipt            `gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// PurchaseItem is one ordered variant with its running received count.
type PurchaseItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseOrderID uuid.UUID `gorm:"column:purchase_order_id;type:uuid;not null;index"`
	VariantID       uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	OrderedQty      int       `gorm:"column:ordered_qty;not null"`
	ReceivedQty     int       `gorm:"column:received_qty;not null;default:0"`
	UnitCostCents   int64     `gorm:"column:unit_cost_cents;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// GoodsReceipt records one delivery arriving against a purchase order.
type GoodsReceipt struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseOrderID uuid.UUID          `gorm:"column:purchase_order_id;type:uuid;not null;index"`
	ReceivedAt      time.Time          `gorm:"column:received_at;not null"`
	ActorUserID     *uuid.UUID         `gorm:"column:actor_user_id;type:uuid"`
	Note            *string            `gorm:"column:note"`
	Lines           []GoodsReceiptLine `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// GoodsReceiptLine is one received variant quantity within a receipt.
type GoodsReceiptLine struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReceiptID uuid.UUID `gorm:"column:receipt_id;type:uuid;not null;index"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Qty       int       `gorm:"column:qty;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// VendorRating aggregates delivery performance per supplier. Rates are
// stored in basis points to keep the row integer-only.
type VendorRating struct {
	SupplierID   uuid.UUID `gorm:"column:supplier_id;type:uuid;primaryKey"`
	OnTimeBps    int       `gorm:"column:on_time_bps;not null;default:0"`
	FillRateBps  int       `gorm:"column:fill_rate_bps;not null;default:0"`
	OrdersClosed int       `gorm:"column:orders_closed;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
