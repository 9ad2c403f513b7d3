package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a retail buyer with an accumulated loyalty balance.
type Customer struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	Phone         *string   `gorm:"column:phone;uniqueIndex"`
	Email         *string   `gorm:"column:email"`
	LoyaltyPoints int64     `gorm:"column:loyalty_points;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
