package repository

import (
	"context"
	"errors"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Guard is the optimistic precondition for GuardedUpdate. Nil fields
// skip that check; every state-machine path sets at least the status
// guard, so no lifecycle write is ever fully unguarded.
type Guard struct {
	ExpectedVersion   *int64
	ExpectedChangeKey *string
	ExpectedStatus    *model.ReservationStatus
	ModifiedBy        *uuid.UUID
}

// ReservationFilter narrows List results.
type ReservationFilter struct {
	Status    string
	Room      string
	From      *time.Time
	To        *time.Time
	CreatedBy *uuid.UUID
	Page      int
	Limit     int
}

type ReservationRepository interface {
	Create(ctx context.Context, res *model.Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	GetByEventID(ctx context.Context, eventID string) (*model.Reservation, error)
	List(ctx context.Context, filter ReservationFilter) ([]model.Reservation, int64, error)
	GuardedUpdate(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard Guard) (*model.Reservation, error)
	FindOverlapping(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error)
}

type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository returns a new instance of ReservationRepository
func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	return GetDB(ctx, r.db).Create(res).Error
}

func (r *reservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var res model.Reservation
	if err := GetDB(ctx, r.db).Preload("Creator").First(&res, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetByEventID(ctx context.Context, eventID string) (*model.Reservation, error) {
	var res model.Reservation
	if err := GetDB(ctx, r.db).First(&res, "event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) List(ctx context.Context, filter ReservationFilter) ([]model.Reservation, int64, error) {
	base := GetDB(ctx, r.db).Model(&model.Reservation{})

	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if filter.Room != "" {
		base = base.Where("? = ANY(locations)", filter.Room)
	}
	if filter.From != nil {
		base = base.Where("end_date_time > ?", *filter.From)
	}
	if filter.To != nil {
		base = base.Where("start_date_time < ?", *filter.To)
	}
	if filter.CreatedBy != nil {
		base = base.Where("created_by = ?", *filter.CreatedBy)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var reservations []model.Reservation
	if err := base.Preload("Creator").
		Order("start_date_time ASC").
		Offset(offset).Limit(filter.Limit).
		Find(&reservations).Error; err != nil {
		return nil, 0, err
	}

	return reservations, total, nil
}

// GuardedUpdate atomically applies mutation to the reservation matching
// id AND every supplied guard. The match and mutate happen in one SQL
// UPDATE, so there is no read-then-write window, and version is bumped
// by exactly 1 with a fresh change key in the same statement. RETURNING
// gives back the post-update row, so the caller sees exactly the state
// its write produced.
//
// When the guard does not match, the document is re-read by id alone to
// tell a missing document (ErrNotFound) from a lost race
// (VersionConflictError carrying the live lock state).
func (r *reservationRepository) GuardedUpdate(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard Guard) (*model.Reservation, error) {
	db := GetDB(ctx, r.db)

	updates := make(map[string]interface{}, len(mutation)+4)
	for k, v := range mutation {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["change_key"] = model.NewChangeKey()
	updates["last_modified_date_time"] = time.Now()
	if guard.ModifiedBy != nil {
		updates["last_modified_by"] = *guard.ModifiedBy
	}

	var updated model.Reservation
	q := db.Model(&updated).Clauses(clause.Returning{}).Where("id = ?", id)
	if guard.ExpectedVersion != nil {
		q = q.Where("version = ?", *guard.ExpectedVersion)
	}
	if guard.ExpectedChangeKey != nil {
		q = q.Where("change_key = ?", *guard.ExpectedChangeKey)
	}
	if guard.ExpectedStatus != nil {
		q = q.Where("status = ?", *guard.ExpectedStatus)
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return &updated, nil
	}

	var live model.Reservation
	if err := db.First(&live, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	conflict := &apperr.VersionConflictError{
		CurrentVersion:       live.Version,
		CurrentStatus:        string(live.Status),
		CurrentChangeKey:     live.ChangeKey,
		LastModifiedDateTime: live.LastModifiedDateTime,
		Live:                 &live,
	}
	if live.LastModifiedBy != nil {
		conflict.LastModifiedBy = live.LastModifiedBy.String()
	}
	return nil, conflict
}

// FindOverlapping returns active reservations sharing at least one room
// with rooms and overlapping [start, end). The interval test is strict
// at the boundary, so back-to-back bookings never collide. The
// reservation identified by excludeID is left out of the scan.
func (r *reservationRepository) FindOverlapping(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
	if len(rooms) == 0 {
		return nil, nil
	}

	var out []model.Reservation
	err := GetDB(ctx, r.db).
		Where("status IN ?", []model.ReservationStatus{model.StatusPending, model.StatusPublished}).
		Where("locations && ?", pq.Array(rooms)).
		Where("start_date_time < ? AND end_date_time > ?", end, start).
		Where("id <> ?", excludeID).
		Order("start_date_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
