package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Room is a bookable resource in the building. Reservations reference
// rooms by Code in their locations set; deactivating a room stops new
// bookings but leaves existing reservations untouched.
type Room struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code       string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"` // e.g. "3F-A"
	Name       string          `gorm:"type:varchar(255);not null" json:"name"`
	Floor      string          `gorm:"type:varchar(50)" json:"floor"`
	Capacity   int             `gorm:"not null;default:0" json:"capacity"`
	HourlyRate decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"hourly_rate"` // internal cost allocation
	IsActive   bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
