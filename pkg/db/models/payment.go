package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweveninteriosolutions-wq/billing-backend/pkg/enums"
)

// Payment records money applied against an invoiced document.
type Payment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	DocumentID  uuid.UUID           `gorm:"column:document_id;type:uuid;not null;index"`
	Method      enums.PaymentMethod `gorm:"column:method;type:payment_method_enum;not null"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Reference   *string             `gorm:"column:reference"`
	ActorUserID *uuid.UUID          `gorm:"column:actor_user_id;type:uuid"`
	ReceivedAt  time.Time           `gorm:"column:received_at;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// LoyaltyTransaction records points granted when a document settles.
type LoyaltyTransaction struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	DocumentID uuid.UUID `gorm:"column:document_id;type:uuid;not null;uniqueIndex"`
	Points     int64     `gorm:"column:points;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
