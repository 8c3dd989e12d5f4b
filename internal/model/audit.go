package model

import (
	"time"

	"github.com/google/uuid"
)

// Reservation lifecycle audit actions
const (
	ActionCreateReservation   = "CREATE_RESERVATION"
	ActionSubmitReservation   = "SUBMIT_RESERVATION"
	ActionEditReservation     = "EDIT_RESERVATION"
	ActionApproveReservation  = "APPROVE_RESERVATION"
	ActionRejectReservation   = "REJECT_RESERVATION"
	ActionCancelReservation   = "CANCEL_RESERVATION"
	ActionDeleteReservation   = "DELETE_RESERVATION"
	ActionRestoreReservation  = "RESTORE_RESERVATION"
	ActionResubmitReservation = "RESUBMIT_RESERVATION"
	ActionRequestEdit         = "REQUEST_EDIT"
	ActionApproveEditRequest  = "APPROVE_EDIT_REQUEST"
	ActionRejectEditRequest   = "REJECT_EDIT_REQUEST"

	// Room catalogue actions
	ActionCreateRoom     = "CREATE_ROOM"
	ActionUpdateRoom     = "UPDATE_ROOM"
	ActionDeactivateRoom = "DEACTIVATE_ROOM"
)

// AuditLog tracks Who, What, and When for every reservation lifecycle
// change. Entries are written in the same transaction as the change
// they describe.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for system actions
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // reservation/room title
	Details    string     `gorm:"type:jsonb" json:"details"`                      // serialized change summary
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
