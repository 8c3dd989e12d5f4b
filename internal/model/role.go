package model

import (
	"time"

	"github.com/google/uuid"
)

// Permission codes used by the reservation workflow. Admin bypasses the
// lookup entirely in the middleware.
const (
	PermReservationsReview = "reservations.review" // approve/reject/edit-request decisions
	PermReservationsRead   = "reservations.read"
	PermRoomsWrite         = "rooms.write"
	PermAuditRead          = "audit.read"
	PermUsersRead          = "users.read"
	PermUsersWrite         = "users.write"
)

// Role groups permissions; seeded at startup for the three built-in
// roles and extensible from the database.
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"` // built-ins cannot be deleted
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission is a single capability assignable to roles.
type Permission struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name  string    `gorm:"type:varchar(255);not null" json:"name"`
	Group string    `gorm:"type:varchar(50);not null;index" json:"group"` // "reservations", "rooms", ...
}
