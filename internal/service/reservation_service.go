package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/repository"
	ws "backend/internal/websocket"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateReservationRequest struct {
	Title               string    `json:"title" binding:"required"`
	Description         string    `json:"description"`
	Locations           []string  `json:"locations"`
	StartDateTime       time.Time `json:"start_date_time" binding:"required"`
	EndDateTime         time.Time `json:"end_date_time" binding:"required"`
	IsAllDayEvent       bool      `json:"is_all_day_event"`
	IsOffsite           bool      `json:"is_offsite"`
	OffsiteVenueName    string    `json:"offsite_venue_name"`
	OffsiteVenueAddress string    `json:"offsite_venue_address"`
	Submit              bool      `json:"submit"` // true = skip draft, create directly in pending
}

type ApproveRequest struct {
	Edits       model.ReservationPatch `json:"edits"`
	ReviewNotes string                 `json:"review_notes"`
}

type RejectRequest struct {
	Reason            string `json:"reason" binding:"required"`
	BlockResubmission bool   `json:"block_resubmission"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Precondition is the client's last-observed optimistic-lock handle:
// either the plain version counter or the opaque change key from an
// If-Match header. Both resolve to the same guard.
type Precondition struct {
	ExpectedVersion *int64
	ChangeKey       string
}

// Supplied reports whether the client sent any lock handle at all.
func (p Precondition) Supplied() bool {
	return p.ExpectedVersion != nil || p.ChangeKey != ""
}

type ReservationResponse struct {
	ID                  string             `json:"id"`
	EventID             string             `json:"event_id"`
	Title               string             `json:"title"`
	Description         string             `json:"description,omitempty"`
	Locations           []string           `json:"locations"`
	StartDateTime       string             `json:"start_date_time"`
	EndDateTime         string             `json:"end_date_time"`
	IsAllDayEvent       bool               `json:"is_all_day_event"`
	IsOffsite           bool               `json:"is_offsite"`
	OffsiteVenueName    string             `json:"offsite_venue_name,omitempty"`
	OffsiteVenueAddress string             `json:"offsite_venue_address,omitempty"`
	Status              string             `json:"status"`
	PreviousStatus      *string            `json:"previous_status,omitempty"`
	Version             int64              `json:"version"`
	ChangeKey           string             `json:"change_key"`
	ReviewNotes         string             `json:"review_notes,omitempty"`
	RejectionReason     string             `json:"rejection_reason,omitempty"`
	CancelReason        string             `json:"cancel_reason,omitempty"`
	ResubmissionAllowed bool               `json:"resubmission_allowed"`
	PendingEditRequest  *model.EditRequest `json:"pending_edit_request,omitempty"`
	CreatedBy           *string            `json:"created_by,omitempty"`
	CreatorName         string             `json:"creator_name,omitempty"`
	SubmittedAt         *string            `json:"submitted_at,omitempty"`
	ActionDate          *string            `json:"action_date,omitempty"`
	DraftExpiresAt      *string            `json:"draft_expires_at,omitempty"`
	LastModifiedBy      *string            `json:"last_modified_by,omitempty"`
	LastModifiedAt      string             `json:"last_modified_date_time"`
	CreatedAt           string             `json:"created_at"`
}

// --- Interface ---

// ReservationService is the lifecycle state machine. Every transition
// is exactly one guarded update with the source status and the caller's
// last-observed version as preconditions, so a lost race of either kind
// surfaces as a single VersionConflict. Illegal transitions are refused
// before any store write.
type ReservationService interface {
	Create(ctx context.Context, actorID string, req CreateReservationRequest) (*ReservationResponse, []apperr.SchedulingConflictEntry, error)
	Get(ctx context.Context, id string) (*ReservationResponse, error)
	List(ctx context.Context, filter repository.ReservationFilter) ([]ReservationResponse, int64, error)
	Submit(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, []apperr.SchedulingConflictEntry, error)
	Edit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, error)
	Approve(ctx context.Context, id, reviewerID string, req ApproveRequest, pre Precondition) (*ReservationResponse, error)
	Reject(ctx context.Context, id, reviewerID string, req RejectRequest, pre Precondition) (*ReservationResponse, error)
	Cancel(ctx context.Context, id, actorID, reason string, pre Precondition) (*ReservationResponse, error)
	Delete(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, error)
	Restore(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, error)
	Resubmit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, []apperr.SchedulingConflictEntry, error)
	RequestEdit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, error)
	ApproveEditRequest(ctx context.Context, id, reviewerID string, pre Precondition) (*ReservationResponse, error)
	RejectEditRequest(ctx context.Context, id, reviewerID, notes string, pre Precondition) (*ReservationResponse, error)
}

type reservationService struct {
	repo      repository.ReservationRepository
	roomRepo  repository.RoomRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	detector  ConflictDetector
	hub       *ws.Hub
}

func NewReservationService(
	repo repository.ReservationRepository,
	roomRepo repository.RoomRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	detector ConflictDetector,
	hub *ws.Hub,
) ReservationService {
	return &reservationService{
		repo:      repo,
		roomRepo:  roomRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		detector:  detector,
		hub:       hub,
	}
}

// --- Implementation ---

func (s *reservationService) Create(ctx context.Context, actorID string, req CreateReservationRequest) (*ReservationResponse, []apperr.SchedulingConflictEntry, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	res := &model.Reservation{
		EventID:              newEventID(),
		Title:                strings.TrimSpace(req.Title),
		Description:          req.Description,
		Locations:            pq.StringArray(req.Locations),
		StartDateTime:        req.StartDateTime.Truncate(time.Minute),
		EndDateTime:          req.EndDateTime.Truncate(time.Minute),
		IsAllDayEvent:        req.IsAllDayEvent,
		IsOffsite:            req.IsOffsite,
		OffsiteVenueName:     req.OffsiteVenueName,
		OffsiteVenueAddress:  req.OffsiteVenueAddress,
		Status:               model.StatusDraft,
		Version:              1,
		ChangeKey:            model.NewChangeKey(),
		ResubmissionAllowed:  true,
		CreatedBy:            &actor,
		LastModifiedBy:       &actor,
		LastModifiedDateTime: now,
	}

	action := model.ActionCreateReservation
	if req.Submit {
		if err := validateForSubmission(res); err != nil {
			return nil, nil, err
		}
		res.Status = model.StatusPending
		res.SubmittedAt = &now
		res.ActionDate = &now
		action = model.ActionSubmitReservation
	} else {
		res.DraftCreatedAt = &now
	}

	if !res.IsOffsite && len(res.Locations) > 0 {
		if err := s.validateRooms(ctx, res.Locations); err != nil {
			return nil, nil, err
		}
	}

	// Conflicts at submission time are advisory: a pending request does
	// not own the slot yet, so the caller is warned, not blocked. A scan
	// that cannot run is still an error, raised before anything is
	// written so it never masquerades as a clean slot.
	var advisory []apperr.SchedulingConflictEntry
	if res.Status == model.StatusPending {
		advisory, err = s.detector.FindConflicts(ctx, res.Locations, res.StartDateTime, res.EndDateTime, uuid.Nil)
		if err != nil {
			return nil, nil, fmt.Errorf("conflict scan failed: %w", err)
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.repo.Create(txCtx, res); createErr != nil {
			return fmt.Errorf("failed to create reservation: %w", createErr)
		}
		return s.audit(txCtx, &actor, action, res, map[string]interface{}{
			"event_id": res.EventID,
			"status":   res.Status,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.broadcast("reservation.created", res, actorID)
	return toReservationResponse(res), advisory, nil
}

func (s *reservationService) Get(ctx context.Context, id string) (*ReservationResponse, error) {
	res, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return toReservationResponse(res), nil
}

func (s *reservationService) List(ctx context.Context, filter repository.ReservationFilter) ([]ReservationResponse, int64, error) {
	reservations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ReservationResponse, 0, len(reservations))
	for i := range reservations {
		out = append(out, *toReservationResponse(&reservations[i]))
	}
	return out, total, nil
}

func (s *reservationService) Submit(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, []apperr.SchedulingConflictEntry, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !model.CanTransition(current.Status, model.StatusPending) || current.Status != model.StatusDraft {
		return nil, nil, apperr.Validation("cannot submit a %s reservation", current.Status)
	}
	if err := validateForSubmission(current); err != nil {
		return nil, nil, err
	}

	advisory, err := s.detector.FindConflicts(ctx, current.Locations, current.StartDateTime, current.EndDateTime, current.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("conflict scan failed: %w", err)
	}

	now := time.Now()
	mutation := map[string]interface{}{
		"status":       model.StatusPending,
		"submitted_at": now,
		"action_date":  now,
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, current.Status, actor),
		&actor, model.ActionSubmitReservation, nil)
	if err != nil {
		return nil, nil, err
	}

	s.broadcast("reservation.submitted", updated, actorID)
	return toReservationResponse(updated), advisory, nil
}

func (s *reservationService) Edit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, apperr.Validation("edit payload is empty")
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	// Edit-in-place is a self transition: only draft and pending allow it.
	if !model.CanTransition(current.Status, current.Status) ||
		(current.Status != model.StatusDraft && current.Status != model.StatusPending) {
		return nil, apperr.Validation("cannot edit a %s reservation in place", current.Status)
	}

	merged := applyPatch(current, patch)
	if current.Status == model.StatusPending {
		if err := validateForSubmission(merged); err != nil {
			return nil, err
		}
	} else if err := validateWindow(merged); err != nil {
		return nil, err
	}
	if patch.Locations != nil && !merged.IsOffsite {
		if err := s.validateRooms(ctx, merged.Locations); err != nil {
			return nil, err
		}
	}

	updated, err := s.transition(ctx, current, patchMutation(patch), s.guardFor(pre, current.Status, actor),
		&actor, model.ActionEditReservation, map[string]interface{}{"fields": patchFieldNames(patch)})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.updated", updated, actorID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Approve(ctx context.Context, id, reviewerID string, req ApproveRequest, pre Precondition) (*ReservationResponse, error) {
	reviewer, err := parseActor(reviewerID)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusPending || !model.CanTransition(current.Status, model.StatusPublished) {
		return nil, apperr.Validation("cannot approve a %s reservation", current.Status)
	}

	merged := applyPatch(current, req.Edits)
	if err := validateForSubmission(merged); err != nil {
		return nil, err
	}
	if req.Edits.Locations != nil && !merged.IsOffsite {
		if err := s.validateRooms(ctx, merged.Locations); err != nil {
			return nil, err
		}
	}

	// Approval moves the request into a resource-consuming status, so
	// this is where slot exclusivity is actually enforced.
	if err := s.requireFreeSlot(ctx, merged); err != nil {
		return nil, err
	}

	now := time.Now()
	mutation := patchMutation(req.Edits)
	mutation["status"] = model.StatusPublished
	mutation["action_date"] = now
	if req.ReviewNotes != "" {
		mutation["review_notes"] = req.ReviewNotes
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusPending, reviewer),
		&reviewer, model.ActionApproveReservation, map[string]interface{}{"review_notes": req.ReviewNotes})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.approved", updated, reviewerID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Reject(ctx context.Context, id, reviewerID string, req RejectRequest, pre Precondition) (*ReservationResponse, error) {
	reviewer, err := parseActor(reviewerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.StatusRejected) {
		return nil, apperr.Validation("cannot reject a %s reservation", current.Status)
	}

	mutation := map[string]interface{}{
		"status":           model.StatusRejected,
		"rejection_reason": req.Reason,
		"action_date":      time.Now(),
	}
	if req.BlockResubmission {
		mutation["resubmission_allowed"] = false
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusPending, reviewer),
		&reviewer, model.ActionRejectReservation, map[string]interface{}{
			"reason":             req.Reason,
			"block_resubmission": req.BlockResubmission,
		})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.rejected", updated, reviewerID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Cancel(ctx context.Context, id, actorID, reason string, pre Precondition) (*ReservationResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("cancel reason is required")
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.StatusCancelled) {
		return nil, apperr.Validation("cannot cancel a %s reservation", current.Status)
	}

	// The pre-cancellation status is recorded at the moment of the
	// cancel itself; restore has nowhere else reliable to learn it.
	mutation := map[string]interface{}{
		"status":          model.StatusCancelled,
		"previous_status": current.Status,
		"cancel_reason":   reason,
		"action_date":     time.Now(),
	}
	dropStaleEditRequest(current, mutation)

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, current.Status, actor),
		&actor, model.ActionCancelReservation, map[string]interface{}{"reason": reason})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.cancelled", updated, actorID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Delete(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.StatusDeleted) {
		return nil, apperr.Validation("cannot delete a %s reservation", current.Status)
	}

	mutation := map[string]interface{}{
		"status":          model.StatusDeleted,
		"previous_status": current.Status,
		"action_date":     time.Now(),
	}
	dropStaleEditRequest(current, mutation)

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, current.Status, actor),
		&actor, model.ActionDeleteReservation, nil)
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.deleted", updated, actorID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Restore(ctx context.Context, id, actorID string, pre Precondition) (*ReservationResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Restorable() {
		return nil, apperr.Validation("reservation is not restorable from status %s", current.Status)
	}
	target := *current.PreviousStatus

	// A restore into an active status must not double-book: a non-empty
	// conflict list is an unconditional block, checked before the
	// version guard ever runs.
	if target.Active() {
		if err := s.requireFreeSlot(ctx, current); err != nil {
			return nil, err
		}
	}

	mutation := map[string]interface{}{
		"status":          target,
		"previous_status": nil,
		"action_date":     time.Now(),
	}
	if current.Status == model.StatusCancelled {
		mutation["cancel_reason"] = ""
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, current.Status, actor),
		&actor, model.ActionRestoreReservation, map[string]interface{}{"restored_to": target})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.restored", updated, actorID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) Resubmit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, []apperr.SchedulingConflictEntry, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !model.CanTransition(current.Status, model.StatusPending) || current.Status != model.StatusRejected {
		return nil, nil, apperr.Validation("cannot resubmit a %s reservation", current.Status)
	}
	// The transition itself is legal; a blocked requester is a
	// permission failure, not a validation or version problem.
	if !current.ResubmissionAllowed {
		return nil, nil, apperr.PermissionDenied("resubmission of this reservation has been blocked by a reviewer")
	}

	merged := applyPatch(current, patch)
	if err := validateForSubmission(merged); err != nil {
		return nil, nil, err
	}
	if patch.Locations != nil && !merged.IsOffsite {
		if err := s.validateRooms(ctx, merged.Locations); err != nil {
			return nil, nil, err
		}
	}

	advisory, err := s.detector.FindConflicts(ctx, merged.Locations, merged.StartDateTime, merged.EndDateTime, merged.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("conflict scan failed: %w", err)
	}

	now := time.Now()
	mutation := patchMutation(patch)
	mutation["status"] = model.StatusPending
	mutation["rejection_reason"] = ""
	mutation["submitted_at"] = now
	mutation["action_date"] = now

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusRejected, actor),
		&actor, model.ActionResubmitReservation, map[string]interface{}{"fields": patchFieldNames(patch)})
	if err != nil {
		return nil, nil, err
	}

	s.broadcast("reservation.resubmitted", updated, actorID)
	return toReservationResponse(updated), advisory, nil
}

func (s *reservationService) RequestEdit(ctx context.Context, id, actorID string, patch model.ReservationPatch, pre Precondition) (*ReservationResponse, error) {
	actor, err := parseActor(actorID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, apperr.Validation("edit request payload is empty")
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusPublished {
		return nil, apperr.Validation("edit requests apply only to published reservations, not %s", current.Status)
	}
	if current.PendingEditRequest != nil && current.PendingEditRequest.Status == model.EditRequestPending {
		return nil, apperr.Validation("an edit request is already awaiting review")
	}

	editReq := &model.EditRequest{
		Status:      model.EditRequestPending,
		Payload:     patch,
		SubmittedAt: time.Now(),
		SubmittedBy: actorID,
	}
	mutation := map[string]interface{}{
		"pending_edit_request": jsonbValue(editReq),
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusPublished, actor),
		&actor, model.ActionRequestEdit, map[string]interface{}{"fields": patchFieldNames(patch)})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.edit_requested", updated, actorID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) ApproveEditRequest(ctx context.Context, id, reviewerID string, pre Precondition) (*ReservationResponse, error) {
	reviewer, err := parseActor(reviewerID)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusPublished {
		return nil, apperr.Validation("edit requests apply only to published reservations, not %s", current.Status)
	}
	if current.PendingEditRequest == nil || current.PendingEditRequest.Status != model.EditRequestPending {
		return nil, apperr.Validation("no pending edit request to approve")
	}

	patch := current.PendingEditRequest.Payload
	merged := applyPatch(current, patch)
	if err := validateForSubmission(merged); err != nil {
		return nil, err
	}
	if patch.Locations != nil && !merged.IsOffsite {
		if err := s.validateRooms(ctx, merged.Locations); err != nil {
			return nil, err
		}
	}
	// The approved payload may move the event to a contested slot.
	if err := s.requireFreeSlot(ctx, merged); err != nil {
		return nil, err
	}

	mutation := patchMutation(patch)
	mutation["pending_edit_request"] = nil
	mutation["action_date"] = time.Now()

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusPublished, reviewer),
		&reviewer, model.ActionApproveEditRequest, map[string]interface{}{
			"fields":       patchFieldNames(patch),
			"requested_by": current.PendingEditRequest.SubmittedBy,
		})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.edit_approved", updated, reviewerID)
	return toReservationResponse(updated), nil
}

func (s *reservationService) RejectEditRequest(ctx context.Context, id, reviewerID, notes string, pre Precondition) (*ReservationResponse, error) {
	reviewer, err := parseActor(reviewerID)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusPublished {
		return nil, apperr.Validation("edit requests apply only to published reservations, not %s", current.Status)
	}
	if current.PendingEditRequest == nil || current.PendingEditRequest.Status != model.EditRequestPending {
		return nil, apperr.Validation("no pending edit request to reject")
	}

	// Keep the request as a record of the decision; the live fields are
	// untouched and the reservation stays published.
	rejected := *current.PendingEditRequest
	rejected.Status = model.EditRequestRejected
	mutation := map[string]interface{}{
		"pending_edit_request": jsonbValue(&rejected),
	}
	if notes != "" {
		mutation["review_notes"] = notes
	}

	updated, err := s.transition(ctx, current, mutation, s.guardFor(pre, model.StatusPublished, reviewer),
		&reviewer, model.ActionRejectEditRequest, map[string]interface{}{
			"requested_by": current.PendingEditRequest.SubmittedBy,
			"notes":        notes,
		})
	if err != nil {
		return nil, err
	}

	s.broadcast("reservation.edit_rejected", updated, reviewerID)
	return toReservationResponse(updated), nil
}

// --- Internals ---

// transition performs the single guarded write plus its audit entry in
// one transaction. The guarded update itself has no side effects; the
// audit row is this layer's responsibility.
func (s *reservationService) transition(
	ctx context.Context,
	current *model.Reservation,
	mutation map[string]interface{},
	guard repository.Guard,
	actor *uuid.UUID,
	action string,
	details map[string]interface{},
) (*model.Reservation, error) {
	var updated *model.Reservation
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		u, updateErr := s.repo.GuardedUpdate(txCtx, current.ID, mutation, guard)
		if updateErr != nil {
			return updateErr
		}
		updated = u
		if details == nil {
			details = map[string]interface{}{}
		}
		details["event_id"] = u.EventID
		details["status"] = u.Status
		details["version"] = u.Version
		return s.audit(txCtx, actor, action, u, details)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *reservationService) guardFor(pre Precondition, expected model.ReservationStatus, actor uuid.UUID) repository.Guard {
	g := repository.Guard{ExpectedStatus: &expected, ModifiedBy: &actor}
	if pre.ExpectedVersion != nil {
		g.ExpectedVersion = pre.ExpectedVersion
	} else if pre.ChangeKey != "" {
		key := pre.ChangeKey
		g.ExpectedChangeKey = &key
	}
	return g
}

// dropStaleEditRequest folds a still-pending edit request into the
// mutation as rejected. A pending request only makes sense against a
// live published document; when cancel or delete takes the document out
// of that status, the request is closed in the same write.
func dropStaleEditRequest(current *model.Reservation, mutation map[string]interface{}) {
	if current.PendingEditRequest == nil || current.PendingEditRequest.Status != model.EditRequestPending {
		return
	}
	stale := *current.PendingEditRequest
	stale.Status = model.EditRequestRejected
	mutation["pending_edit_request"] = jsonbValue(&stale)
}

// requireFreeSlot blocks res's slot against all active reservations.
func (s *reservationService) requireFreeSlot(ctx context.Context, res *model.Reservation) error {
	if res.IsOffsite {
		return nil
	}
	conflicts, err := s.detector.FindConflicts(ctx, res.Locations, res.StartDateTime, res.EndDateTime, res.ID)
	if err != nil {
		return fmt.Errorf("conflict scan failed: %w", err)
	}
	if len(conflicts) > 0 {
		return &apperr.SchedulingConflictError{Conflicts: conflicts}
	}
	return nil
}

func (s *reservationService) validateRooms(ctx context.Context, codes []string) error {
	found, err := s.roomRepo.CodesExist(ctx, codes)
	if err != nil {
		return err
	}
	if len(found) == len(codes) {
		return nil
	}
	known := make(map[string]bool, len(found))
	for _, c := range found {
		known[c] = true
	}
	var missing []string
	for _, c := range codes {
		if !known[c] {
			missing = append(missing, c)
		}
	}
	return apperr.Validation("unknown or inactive room(s): %s", strings.Join(missing, ", "))
}

func (s *reservationService) find(ctx context.Context, id string) (*model.Reservation, error) {
	if rid, err := uuid.Parse(id); err == nil {
		return s.repo.GetByID(ctx, rid)
	}
	// Callers coming from calendar integrations address by event id.
	return s.repo.GetByEventID(ctx, id)
}

func (s *reservationService) audit(ctx context.Context, actor *uuid.UUID, action string, res *model.Reservation, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     actor,
		Action:     action,
		EntityID:   res.ID.String(),
		EntityName: res.Title,
		Details:    string(payload),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *reservationService) broadcast(event string, res *model.Reservation, actorID string) {
	if s.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]interface{}{
		"event":          event,
		"reservation_id": res.ID.String(),
		"event_id":       res.EventID,
		"status":         res.Status,
		"actor":          actorID,
	})
	if err != nil {
		return
	}
	// Never let a slow hub delay a mutation.
	select {
	case s.hub.Broadcast <- msg:
	default:
	}
}

// --- Helpers ---

func parseActor(actorID string) (uuid.UUID, error) {
	actor, err := uuid.Parse(actorID)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid actor id: %s", actorID)
	}
	return actor, nil
}

func newEventID() string {
	return "EVT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// validateForSubmission enforces the field rules a reservation must
// meet to enter (or stay in) the live workflow.
func validateForSubmission(res *model.Reservation) error {
	if strings.TrimSpace(res.Title) == "" {
		return apperr.Validation("title is required")
	}
	if err := validateWindow(res); err != nil {
		return err
	}
	if res.StartDateTime.IsZero() || res.EndDateTime.IsZero() {
		return apperr.Validation("start and end times are required")
	}
	if res.IsOffsite {
		if strings.TrimSpace(res.OffsiteVenueAddress) == "" {
			return apperr.Validation("offsite reservations require a venue address")
		}
	} else if len(res.Locations) == 0 {
		return apperr.Validation("at least one room is required for on-site reservations")
	}
	return nil
}

// validateWindow checks start < end whenever both ends are set; drafts
// may still be missing one of them.
func validateWindow(res *model.Reservation) error {
	if res.StartDateTime.IsZero() || res.EndDateTime.IsZero() {
		return nil
	}
	if !res.StartDateTime.Before(res.EndDateTime) {
		return apperr.Validation("start time must be before end time")
	}
	return nil
}

// applyPatch returns a copy of res with the patch merged in; the
// original is untouched.
func applyPatch(res *model.Reservation, p model.ReservationPatch) *model.Reservation {
	merged := *res
	if p.Title != nil {
		merged.Title = *p.Title
	}
	if p.Description != nil {
		merged.Description = *p.Description
	}
	if p.Locations != nil {
		merged.Locations = pq.StringArray(p.Locations)
	}
	if p.StartDateTime != nil {
		merged.StartDateTime = p.StartDateTime.Truncate(time.Minute)
	}
	if p.EndDateTime != nil {
		merged.EndDateTime = p.EndDateTime.Truncate(time.Minute)
	}
	if p.IsAllDayEvent != nil {
		merged.IsAllDayEvent = *p.IsAllDayEvent
	}
	if p.IsOffsite != nil {
		merged.IsOffsite = *p.IsOffsite
	}
	if p.OffsiteVenueName != nil {
		merged.OffsiteVenueName = *p.OffsiteVenueName
	}
	if p.OffsiteVenueAddress != nil {
		merged.OffsiteVenueAddress = *p.OffsiteVenueAddress
	}
	return &merged
}

// patchMutation translates a patch into guarded-update field
// assignments.
func patchMutation(p model.ReservationPatch) map[string]interface{} {
	m := map[string]interface{}{}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.Locations != nil {
		m["locations"] = pq.StringArray(p.Locations)
	}
	if p.StartDateTime != nil {
		m["start_date_time"] = p.StartDateTime.Truncate(time.Minute)
	}
	if p.EndDateTime != nil {
		m["end_date_time"] = p.EndDateTime.Truncate(time.Minute)
	}
	if p.IsAllDayEvent != nil {
		m["is_all_day_event"] = *p.IsAllDayEvent
	}
	if p.IsOffsite != nil {
		m["is_offsite"] = *p.IsOffsite
	}
	if p.OffsiteVenueName != nil {
		m["offsite_venue_name"] = *p.OffsiteVenueName
	}
	if p.OffsiteVenueAddress != nil {
		m["offsite_venue_address"] = *p.OffsiteVenueAddress
	}
	return m
}

func patchFieldNames(p model.ReservationPatch) []string {
	var names []string
	raw, err := json.Marshal(p)
	if err != nil {
		return names
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return names
	}
	for k := range m {
		names = append(names, k)
	}
	return names
}

// jsonbValue renders v for assignment into a jsonb column inside a
// map-based update.
func jsonbValue(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return gorm.Expr("?::jsonb", string(raw))
}

func toReservationResponse(res *model.Reservation) *ReservationResponse {
	out := &ReservationResponse{
		ID:                  res.ID.String(),
		EventID:             res.EventID,
		Title:               res.Title,
		Description:         res.Description,
		Locations:           []string(res.Locations),
		StartDateTime:       res.StartDateTime.Format(time.RFC3339),
		EndDateTime:         res.EndDateTime.Format(time.RFC3339),
		IsAllDayEvent:       res.IsAllDayEvent,
		IsOffsite:           res.IsOffsite,
		OffsiteVenueName:    res.OffsiteVenueName,
		OffsiteVenueAddress: res.OffsiteVenueAddress,
		Status:              string(res.Status),
		Version:             res.Version,
		ChangeKey:           res.ChangeKey,
		ReviewNotes:         res.ReviewNotes,
		RejectionReason:     res.RejectionReason,
		CancelReason:        res.CancelReason,
		ResubmissionAllowed: res.ResubmissionAllowed,
		PendingEditRequest:  res.PendingEditRequest,
		LastModifiedAt:      res.LastModifiedDateTime.Format(time.RFC3339),
		CreatedAt:           res.CreatedAt.Format(time.RFC3339),
	}
	if res.PreviousStatus != nil {
		prev := string(*res.PreviousStatus)
		out.PreviousStatus = &prev
	}
	if res.CreatedBy != nil {
		id := res.CreatedBy.String()
		out.CreatedBy = &id
	}
	if res.Creator != nil {
		out.CreatorName = res.Creator.DisplayName
		if out.CreatorName == "" {
			out.CreatorName = res.Creator.Username
		}
	}
	if res.LastModifiedBy != nil {
		id := res.LastModifiedBy.String()
		out.LastModifiedBy = &id
	}
	out.SubmittedAt = fmtTimePtr(res.SubmittedAt)
	out.ActionDate = fmtTimePtr(res.ActionDate)
	out.DraftExpiresAt = fmtTimePtr(res.DraftExpiresAt())
	return out
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
