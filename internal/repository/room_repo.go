package repository

import (
	"context"
	"errors"

	"backend/internal/apperr"
	"backend/internal/model"

	"gorm.io/gorm"
)

type RoomRepository interface {
	Create(ctx context.Context, room *model.Room) error
	GetByCode(ctx context.Context, code string) (*model.Room, error)
	List(ctx context.Context, activeOnly bool) ([]model.Room, error)
	CodesExist(ctx context.Context, codes []string) ([]string, error)
	Update(ctx context.Context, room *model.Room) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository returns a new instance of RoomRepository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, room *model.Room) error {
	return GetDB(ctx, r.db).Create(room).Error
}

func (r *roomRepository) GetByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	if err := GetDB(ctx, r.db).First(&room, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) List(ctx context.Context, activeOnly bool) ([]model.Room, error) {
	var rooms []model.Room
	q := GetDB(ctx, r.db).Order("code ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// CodesExist returns the subset of codes that belong to active rooms.
// The caller compares lengths to find unknown or inactive codes.
func (r *roomRepository) CodesExist(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var found []string
	err := GetDB(ctx, r.db).Model(&model.Room{}).
		Where("code IN ? AND is_active = ?", codes, true).
		Pluck("code", &found).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *roomRepository) Update(ctx context.Context, room *model.Room) error {
	return GetDB(ctx, r.db).Save(room).Error
}
