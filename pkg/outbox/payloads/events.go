package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// StockMovementRecordedEvent replicates one ledger movement to peer branches.
// Consumers apply it idempotently keyed on MovementID.
type StockMovementRecordedEvent struct {
	MovementID     uuid.UUID          `json:"movement_id"`
	VariantID      uuid.UUID          `json:"variant_id"`
	BranchID       uuid.UUID          `json:"branch_id"`
	OriginBranchID uuid.UUID          `json:"origin_branch_id"`
	Kind           enums.MovementKind `json:"kind"`
	Delta          int                `json:"delta"`
	Reference      string             `json:"reference"`
	Seq            int64              `json:"seq"`
	RecordedAt     time.Time          `json:"recorded_at"`
}

// StockAlertChangedEvent fires on low-stock edge transitions only.
type StockAlertChangedEvent struct {
	VariantID uuid.UUID `json:"variant_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
	Low       bool      `json:"low"`
	ChangedAt time.Time `json:"changed_at"`
}

// DocumentStageChangedEvent is emitted on every document transition.
type DocumentStageChangedEvent struct {
	DocumentID uuid.UUID           `json:"document_id"`
	BranchID   uuid.UUID           `json:"branch_id"`
	CustomerID uuid.UUID           `json:"customer_id"`
	FromStage  enums.DocumentStage `json:"from_stage"`
	ToStage    enums.DocumentStage `json:"to_stage"`
}

// InvoiceSettledEvent is emitted when the final payment clears an invoice.
type InvoiceSettledEvent struct {
	DocumentID      uuid.UUID `json:"document_id"`
	InvoiceNumber   string    `json:"invoice_number"`
	CustomerID      uuid.UUID `json:"customer_id"`
	BranchID        uuid.UUID `json:"branch_id"`
	GrandTotalCents int64     `json:"grand_total_cents"`
	LoyaltyPoints   int64     `json:"loyalty_points"`
	SettledAt       time.Time `json:"settled_at"`
}

// PurchaseOrderClosedEvent reports the delivery outcome used for vendor rating.
type PurchaseOrderClosedEvent struct {
	PurchaseOrderID uuid.UUID  `json:"purchase_order_id"`
	SupplierID      uuid.UUID  `json:"supplier_id"`
	BranchID        uuid.UUID  `json:"branch_id"`
	OrderedQty      int        `json:"ordered_qty"`
	ReceivedQty     int        `json:"received_qty"`
	ExpectedAt      *time.Time `json:"expected_at,omitempty"`
	ClosedAt        time.Time  `json:"closed_at"`
}
