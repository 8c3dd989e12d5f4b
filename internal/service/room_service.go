package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type CreateRoomRequest struct {
	Code       string `json:"code" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Floor      string `json:"floor"`
	Capacity   int    `json:"capacity"`
	HourlyRate string `json:"hourly_rate"` // decimal string, e.g. "12.50"
}

type UpdateRoomRequest struct {
	Name       string `json:"name"`
	Floor      string `json:"floor"`
	Capacity   *int   `json:"capacity"`
	HourlyRate string `json:"hourly_rate"`
	IsActive   *bool  `json:"is_active"`
}

type RoomResponse struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Floor      string `json:"floor"`
	Capacity   int    `json:"capacity"`
	HourlyRate string `json:"hourly_rate"`
	IsActive   bool   `json:"is_active"`
}

type RoomService interface {
	CreateRoom(ctx context.Context, actorID string, req CreateRoomRequest) (*RoomResponse, error)
	UpdateRoom(ctx context.Context, actorID, code string, req UpdateRoomRequest) (*RoomResponse, error)
	ListRooms(ctx context.Context, activeOnly bool) ([]RoomResponse, error)
}

type roomService struct {
	repo      repository.RoomRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

func NewRoomService(repo repository.RoomRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager) RoomService {
	return &roomService{repo: repo, auditRepo: auditRepo, txManager: txManager}
}

// --- Implementation ---

func (s *roomService) CreateRoom(ctx context.Context, actorID string, req CreateRoomRequest) (*RoomResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.Validation("room code is required")
	}
	if _, err := s.repo.GetByCode(ctx, code); err == nil {
		return nil, apperr.Validation("room code %s already exists", code)
	}

	rate := decimal.Zero
	if req.HourlyRate != "" {
		parsed, parseErr := decimal.NewFromString(req.HourlyRate)
		if parseErr != nil {
			return nil, apperr.Validation("invalid hourly rate: %s", req.HourlyRate)
		}
		rate = parsed
	}

	room := &model.Room{
		Code:       code,
		Name:       req.Name,
		Floor:      req.Floor,
		Capacity:   req.Capacity,
		HourlyRate: rate,
		IsActive:   true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.repo.Create(txCtx, room); createErr != nil {
			return fmt.Errorf("failed to create room: %w", createErr)
		}
		return s.auditRoom(txCtx, &actor, model.ActionCreateRoom, room)
	})
	if err != nil {
		return nil, err
	}

	return toRoomResponse(room), nil
}

func (s *roomService) UpdateRoom(ctx context.Context, actorID, code string, req UpdateRoomRequest) (*RoomResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}

	room, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	action := model.ActionUpdateRoom
	if req.Name != "" {
		room.Name = req.Name
	}
	if req.Floor != "" {
		room.Floor = req.Floor
	}
	if req.Capacity != nil {
		room.Capacity = *req.Capacity
	}
	if req.HourlyRate != "" {
		rate, parseErr := decimal.NewFromString(req.HourlyRate)
		if parseErr != nil {
			return nil, apperr.Validation("invalid hourly rate: %s", req.HourlyRate)
		}
		room.HourlyRate = rate
	}
	if req.IsActive != nil {
		if room.IsActive && !*req.IsActive {
			action = model.ActionDeactivateRoom
		}
		room.IsActive = *req.IsActive
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if updateErr := s.repo.Update(txCtx, room); updateErr != nil {
			return fmt.Errorf("failed to update room: %w", updateErr)
		}
		return s.auditRoom(txCtx, &actor, action, room)
	})
	if err != nil {
		return nil, err
	}

	return toRoomResponse(room), nil
}

func (s *roomService) ListRooms(ctx context.Context, activeOnly bool) ([]RoomResponse, error) {
	rooms, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, *toRoomResponse(&rooms[i]))
	}
	return out, nil
}

func (s *roomService) auditRoom(ctx context.Context, actor *uuid.UUID, action string, room *model.Room) error {
	details, _ := json.Marshal(map[string]interface{}{
		"code":      room.Code,
		"is_active": room.IsActive,
	})
	entry := &model.AuditLog{
		UserID:     actor,
		Action:     action,
		EntityID:   room.ID.String(),
		EntityName: room.Name,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func toRoomResponse(room *model.Room) *RoomResponse {
	return &RoomResponse{
		ID:         room.ID.String(),
		Code:       room.Code,
		Name:       room.Name,
		Floor:      room.Floor,
		Capacity:   room.Capacity,
		HourlyRate: room.HourlyRate.StringFixed(2),
		IsActive:   room.IsActive,
	}
}
