package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// SalesDocument is the order-to-invoice aggregate moving through the
// billing lifecycle. Amounts are integer cents frozen at approval.
type SalesDocument struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BranchID        uuid.UUID            `gorm:"column:branch_id;type:uuid;not null"`
	CustomerID      uuid.UUID            `gorm:"column:customer_id;type:uuid;not null"`
	Stage           enums.DocumentStage  `gorm:"column:stage;type:document_stage_enum;not null;default:'draft'"`
	InvoiceNumber   *string              `gorm:"column:invoice_number;uniqueIndex"`
	SubtotalCents   int64                `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents        int64                `gorm:"column:tax_cents;not null;default:0"`
	GrandTotalCents int64                `gorm:"column:grand_total_cents;not null;default:0"`
	PaidCents       int64                `gorm:"column:paid_cents;not null;default:0"`
	Lines           []DocumentLine       `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Transitions     []DocumentTransition `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// OutstandingCents is the unpaid remainder of the grand total.
func (d SalesDocument) OutstandingCents() int64 {
	return d.GrandTotalCents - d.PaidCents
}

// DocumentLine snapshots one variant on a sales document. Unit price and
// tax rate are copied from the catalog when the line is written so later
// catalog edits never reprice past documents.
type DocumentLine struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	DocumentID     uuid.UUID `gorm:"column:document_id;type:uuid;not null;index"`
	VariantID      uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	TaxRateBps     int       `gorm:"column:tax_rate_bps;not null;default:0"`
	TotalCents     int64     `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DocumentTransition is the append-only audit trail of stage changes.
type DocumentTransition struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	DocumentID  uuid.UUID           `gorm:"column:document_id;type:uuid;not null;index"`
	FromStage   enums.DocumentStage `gorm:"column:from_stage;type:document_stage_enum;not null"`
	ToStage     enums.DocumentStage `gorm:"column:to_stage;type:document_stage_enum;not null"`
	ActorUserID *uuid.UUID          `gorm:"column:actor_user_id;type:uuid"`
	Note        *string             `gorm:"column:note"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}
