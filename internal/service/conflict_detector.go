package service

import (
	"context"
	"time"

	"backend/internal/apperr"
	"backend/internal/repository"

	"github.com/google/uuid"
)

// ConflictDetector finds active reservations that would be double-booked
// by a candidate room/time slot. There is no persistent slot lock; the
// scan runs on demand at the moments a reservation enters an active
// status, which keeps the model optimistic: any number of pending
// requests may compete for a slot until one of them wins it.
type ConflictDetector interface {
	FindConflicts(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]apperr.SchedulingConflictEntry, error)
}

type conflictDetector struct {
	reservationRepo repository.ReservationRepository
}

func NewConflictDetector(reservationRepo repository.ReservationRepository) ConflictDetector {
	return &conflictDetector{reservationRepo: reservationRepo}
}

// FindConflicts returns every pending/published reservation sharing a
// room with rooms and overlapping the half-open window [start, end).
// Offsite candidates (no rooms) occupy nothing and never conflict.
func (d *conflictDetector) FindConflicts(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]apperr.SchedulingConflictEntry, error) {
	if len(rooms) == 0 {
		return nil, nil
	}

	overlapping, err := d.reservationRepo.FindOverlapping(ctx, rooms, start, end, excludeID)
	if err != nil {
		return nil, err
	}

	entries := make([]apperr.SchedulingConflictEntry, 0, len(overlapping))
	for _, res := range overlapping {
		entries = append(entries, apperr.SchedulingConflictEntry{
			ReservationID: res.ID.String(),
			EventTitle:    res.Title,
			StartDateTime: res.StartDateTime,
			EndDateTime:   res.EndDateTime,
		})
	}
	return entries, nil
}
