package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// StockRecord tracks on-hand and reserved counts per variant and branch.
// Version guards every mutation with a compare-and-swap update.
type StockRecord struct {
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	BranchID  uuid.UUID `gorm:"column:branch_id;type:uuid;primaryKey"`
	OnHand    int       `gorm:"column:on_hand;not null;default:0"`
	Reserved  int       `gorm:"column:reserved;not null;default:0"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the quantity free to promise: on-hand minus reserved.
func (r StockRecord) Available() int {
	return r.OnHand - r.Reserved
}

// StockMovement is the immutable audit row behind every stock mutation.
// The ID is assigned by the originating branch so replicated movements
// stay globally unique, and Seq orders movements within a branch.
type StockMovement struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	VariantID      uuid.UUID           `gorm:"column:variant_id;type:uuid;not null;index:idx_stock_movements_variant_branch"`
	BranchID       uuid.UUID           `gorm:"column:branch_id;type:uuid;not null;index:idx_stock_movements_variant_branch"`
	OriginBranchID uuid.UUID           `gorm:"column:origin_branch_id;type:uuid;not null"`
	Kind           enums.MovementKind  `gorm:"column:kind;type:movement_kind_enum;not null"`
	Delta          int                 `gorm:"column:delta;not null"`
	Reference      string              `gorm:"column:reference;not null"`
	ActorUserID    *uuid.UUID          `gorm:"column:actor_user_id;type:uuid"`
	Seq            int64               `gorm:"column:seq;not null"`
	Note           *string             `gorm:"column:note"`
	RecordedAt     time.Time           `gorm:"column:recorded_at;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// StockReservation holds quantity against a document reference. The
// unique (reference, variant, branch) key makes reserve calls idempotent.
type StockReservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Reference string                  `gorm:"column:reference;not null;uniqueIndex:uniq_reservation_ref_variant_branch"`
	VariantID uuid.UUID               `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:uniq_reservation_ref_variant_branch"`
	BranchID  uuid.UUID               `gorm:"column:branch_id;type:uuid;not null;uniqueIndex:uniq_reservation_ref_variant_branch"`
	Qty       int                     `gorm:"column:qty;not null"`
	Status    enums.ReservationStatus `gorm:"column:status;type:reservation_status_enum;not null;default:'active'"`
	ExpiresAt *time.Time              `gorm:"column:expires_at"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// StockThreshold is the low-stock alert floor per variant and branch.
type StockThreshold struct {
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	BranchID  uuid.UUID `gorm:"column:branch_id;type:uuid;primaryKey"`
	Threshold int       `gorm:"column:threshold;not null"`
	AlertLow  bool      `gorm:"column:alert_low;not null;default:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BranchSequence is the per-branch movement counter, incremented inside
// the same transaction that inserts the movement.
type BranchSequence struct {
	BranchID  uuid.UUID `gorm:"column:branch_id;type:uuid;primaryKey"`
	NextSeq   int64     `gorm:"column:next_seq;not null;default:1"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
