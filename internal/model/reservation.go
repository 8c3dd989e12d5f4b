package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ReservationStatus is the closed set of workflow states a reservation
// can be in. Transition legality lives in CanTransition below; adding a
// status without wiring it into the table is a compile-visible change.
type ReservationStatus string

const (
	StatusDraft     ReservationStatus = "draft"
	StatusPending   ReservationStatus = "pending"
	StatusPublished ReservationStatus = "published"
	StatusRejected  ReservationStatus = "rejected"
	StatusCancelled ReservationStatus = "cancelled"
	StatusDeleted   ReservationStatus = "deleted"
)

// EditRequestStatus enum constants for the staged edit request attached
// to a published reservation.
const (
	EditRequestPending  = "pending"
	EditRequestApproved = "approved"
	EditRequestRejected = "rejected"
)

// DraftTTL is how long a draft is considered live before it is flagged
// as expired in responses. Cleanup is an external housekeeping job.
const DraftTTL = 30 * 24 * time.Hour

// Reservation is the central entity: a room/event booking moving through
// the draft -> pending -> published workflow under optimistic locking.
// Version increases by exactly 1 on every accepted write and ChangeKey
// is regenerated alongside it; the two are alternate handles on the same
// lock. PreviousStatus is recorded at cancel/delete time so restore
// knows where to return to.
type Reservation struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`

	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	// Locations holds room codes. Empty only when IsOffsite is true.
	Locations     pq.StringArray `gorm:"type:text[];index:idx_reservations_slot,type:gin" json:"locations"`
	StartDateTime time.Time      `gorm:"not null;index" json:"start_date_time"`
	EndDateTime   time.Time      `gorm:"not null" json:"end_date_time"`
	IsAllDayEvent bool           `gorm:"not null;default:false" json:"is_all_day_event"`

	IsOffsite           bool   `gorm:"not null;default:false" json:"is_offsite"`
	OffsiteVenueName    string `gorm:"type:varchar(255)" json:"offsite_venue_name,omitempty"`
	OffsiteVenueAddress string `gorm:"type:text" json:"offsite_venue_address,omitempty"`

	Status         ReservationStatus  `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	PreviousStatus *ReservationStatus `gorm:"type:varchar(20)" json:"previous_status,omitempty"`

	Version   int64  `gorm:"not null;default:1" json:"version"`
	ChangeKey string `gorm:"type:varchar(64);not null" json:"change_key"`

	ReviewNotes         string `gorm:"type:text" json:"review_notes,omitempty"`
	RejectionReason     string `gorm:"type:text" json:"rejection_reason,omitempty"`
	CancelReason        string `gorm:"type:text" json:"cancel_reason,omitempty"`
	ResubmissionAllowed bool   `gorm:"not null;default:true" json:"resubmission_allowed"`

	PendingEditRequest *EditRequest `gorm:"type:jsonb;serializer:json" json:"pending_edit_request,omitempty"`

	CreatedBy *uuid.UUID `gorm:"type:uuid;index" json:"created_by"`
	Creator   *User      `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`

	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	ActionDate           *time.Time `json:"action_date,omitempty"`
	DraftCreatedAt       *time.Time `json:"draft_created_at,omitempty"`
	LastModifiedBy       *uuid.UUID `gorm:"type:uuid" json:"last_modified_by,omitempty"`
	LastModifiedDateTime time.Time  `json:"last_modified_date_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EditRequest is a staged change set proposed against a published
// reservation. It is stored as a jsonb column and never mutates the live
// fields until a reviewer approves it.
type EditRequest struct {
	Status      string           `json:"status"`
	Payload     ReservationPatch `json:"payload"`
	SubmittedAt time.Time        `json:"submitted_at"`
	SubmittedBy string           `json:"submitted_by"`
}

// ReservationPatch carries the client-editable fields of a reservation.
// Nil pointers mean "leave unchanged".
type ReservationPatch struct {
	Title               *string    `json:"title,omitempty"`
	Description         *string    `json:"description,omitempty"`
	Locations           []string   `json:"locations,omitempty"`
	StartDateTime       *time.Time `json:"start_date_time,omitempty"`
	EndDateTime         *time.Time `json:"end_date_time,omitempty"`
	IsAllDayEvent       *bool      `json:"is_all_day_event,omitempty"`
	IsOffsite           *bool      `json:"is_offsite,omitempty"`
	OffsiteVenueName    *string    `json:"offsite_venue_name,omitempty"`
	OffsiteVenueAddress *string    `json:"offsite_venue_address,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ReservationPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Locations == nil &&
		p.StartDateTime == nil && p.EndDateTime == nil &&
		p.IsAllDayEvent == nil && p.IsOffsite == nil &&
		p.OffsiteVenueName == nil && p.OffsiteVenueAddress == nil
}

// Active reports whether the status counts toward room occupancy.
// Only live requests compete for the resource; drafts and terminal
// states never block a slot.
func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusPublished
}

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPublished, StatusRejected, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// legalTransitions is the total transition table for direct status
// moves. Restore (cancelled/deleted back to the recorded previous
// status) is validated separately because its target depends on data.
var legalTransitions = map[ReservationStatus]map[ReservationStatus]bool{
	StatusDraft: {
		StatusDraft:   true, // save draft in place
		StatusPending: true, // submit
		StatusDeleted: true, // delete draft
	},
	StatusPending: {
		StatusPending:   true, // edit-in-place
		StatusPublished: true, // approve
		StatusRejected:  true, // reject
		StatusCancelled: true, // cancel
		StatusDeleted:   true,
	},
	StatusPublished: {
		StatusPublished: true, // edit request staging / resolution
		StatusCancelled: true,
		StatusDeleted:   true,
	},
	StatusRejected: {
		StatusPending: true, // resubmit
		StatusDeleted: true,
	},
	StatusCancelled: {
		StatusDeleted: true,
	},
	StatusDeleted: {},
}

// CanTransition reports whether from -> to is a legal direct move.
func CanTransition(from, to ReservationStatus) bool {
	return legalTransitions[from][to]
}

// Restorable reports whether the reservation is in a state restore
// applies to and has a recorded status to return to.
func (r *Reservation) Restorable() bool {
	return (r.Status == StatusCancelled || r.Status == StatusDeleted) && r.PreviousStatus != nil
}

// DraftExpiresAt returns the advisory expiry moment for a draft, or nil
// for non-drafts.
func (r *Reservation) DraftExpiresAt() *time.Time {
	if r.Status != StatusDraft || r.DraftCreatedAt == nil {
		return nil
	}
	t := r.DraftCreatedAt.Add(DraftTTL)
	return &t
}

// NewChangeKey mints a fresh opaque optimistic-lock token. Clients only
// ever compare it for equality.
func NewChangeKey() string {
	return uuid.NewString()
}
