package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/clause"
)

// --- Mocks ---

type mockReservationRepo struct {
	createFn          func(ctx context.Context, res *model.Reservation) error
	getByIDFn         func(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	getByEventIDFn    func(ctx context.Context, eventID string) (*model.Reservation, error)
	listFn            func(ctx context.Context, filter repository.ReservationFilter) ([]model.Reservation, int64, error)
	guardedUpdateFn   func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error)
	findOverlappingFn func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error)

	// writes counts Create and GuardedUpdate calls so tests can assert
	// a rejected operation never touched the store.
	writes int
}

func (m *mockReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	m.writes++
	if m.createFn == nil {
		return errors.New("unexpected Create")
	}
	return m.createFn(ctx, res)
}

func (m *mockReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	if m.getByIDFn == nil {
		return nil, apperr.ErrNotFound
	}
	return m.getByIDFn(ctx, id)
}

func (m *mockReservationRepo) GetByEventID(ctx context.Context, eventID string) (*model.Reservation, error) {
	if m.getByEventIDFn == nil {
		return nil, apperr.ErrNotFound
	}
	return m.getByEventIDFn(ctx, eventID)
}

func (m *mockReservationRepo) List(ctx context.Context, filter repository.ReservationFilter) ([]model.Reservation, int64, error) {
	if m.listFn == nil {
		return nil, 0, nil
	}
	return m.listFn(ctx, filter)
}

func (m *mockReservationRepo) GuardedUpdate(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
	m.writes++
	if m.guardedUpdateFn == nil {
		return nil, errors.New("unexpected GuardedUpdate")
	}
	return m.guardedUpdateFn(ctx, id, mutation, guard)
}

func (m *mockReservationRepo) FindOverlapping(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
	if m.findOverlappingFn == nil {
		return nil, nil
	}
	return m.findOverlappingFn(ctx, rooms, start, end, excludeID)
}

type mockRoomRepo struct {
	codesExistFn func(ctx context.Context, codes []string) ([]string, error)
}

func (m *mockRoomRepo) Create(ctx context.Context, room *model.Room) error { return nil }
func (m *mockRoomRepo) GetByCode(ctx context.Context, code string) (*model.Room, error) {
	return nil, apperr.ErrNotFound
}
func (m *mockRoomRepo) List(ctx context.Context, activeOnly bool) ([]model.Room, error) {
	return nil, nil
}
func (m *mockRoomRepo) Update(ctx context.Context, room *model.Room) error { return nil }
func (m *mockRoomRepo) CodesExist(ctx context.Context, codes []string) ([]string, error) {
	if m.codesExistFn == nil {
		return codes, nil // every code known and active
	}
	return m.codesExistFn(ctx, codes)
}

type mockAuditRepo struct {
	entries []model.AuditLog
}

func (m *mockAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]model.AuditLog, int64, error) {
	return m.entries, int64(len(m.entries)), nil
}

type mockTxManager struct{}

func (m *mockTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// --- Fixtures ---

var (
	testActorID   = uuid.New()
	testActor     = testActorID.String()
	testSlotStart = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	testSlotEnd   = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
)

func draftReservation() *model.Reservation {
	now := time.Now()
	return &model.Reservation{
		ID:                   uuid.New(),
		EventID:              "EVT-A1B2C3D4E5F6",
		Title:                "Architecture sync",
		Locations:            pq.StringArray{"R101"},
		StartDateTime:        testSlotStart,
		EndDateTime:          testSlotEnd,
		Status:               model.StatusDraft,
		Version:              1,
		ChangeKey:            model.NewChangeKey(),
		ResubmissionAllowed:  true,
		CreatedBy:            &testActorID,
		DraftCreatedAt:       &now,
		LastModifiedDateTime: now,
	}
}

func withStatus(status model.ReservationStatus) *model.Reservation {
	res := draftReservation()
	res.Status = status
	res.DraftCreatedAt = nil
	return res
}

// passthroughUpdate emulates the guarded update succeeding: the mutation
// is applied over current and version/changeKey advance by one write.
func passthroughUpdate(current *model.Reservation) func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
	return func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
		updated := *current
		if status, ok := mutation["status"].(model.ReservationStatus); ok {
			updated.Status = status
		}
		if title, ok := mutation["title"].(string); ok {
			updated.Title = title
		}
		if reason, ok := mutation["rejection_reason"].(string); ok {
			updated.RejectionReason = reason
		}
		updated.Version = current.Version + 1
		updated.ChangeKey = model.NewChangeKey()
		return &updated, nil
	}
}

func newTestService(repo *mockReservationRepo, rooms *mockRoomRepo, audit *mockAuditRepo) ReservationService {
	return NewReservationService(repo, rooms, audit, &mockTxManager{}, NewConflictDetector(repo), nil)
}

// --- Create ---

func TestCreate_Draft(t *testing.T) {
	repo := &mockReservationRepo{
		createFn: func(ctx context.Context, res *model.Reservation) error {
			res.ID = uuid.New()
			return nil
		},
	}
	audit := &mockAuditRepo{}
	svc := newTestService(repo, &mockRoomRepo{}, audit)

	res, advisory, err := svc.Create(context.Background(), testActor, CreateReservationRequest{
		Title:         "Architecture sync",
		Locations:     []string{"R101"},
		StartDateTime: testSlotStart,
		EndDateTime:   testSlotEnd,
	})

	assert.NoError(t, err)
	assert.Equal(t, "draft", res.Status)
	assert.Equal(t, int64(1), res.Version)
	assert.NotEmpty(t, res.ChangeKey)
	assert.NotEmpty(t, res.EventID)
	assert.NotNil(t, res.DraftExpiresAt)
	assert.Empty(t, advisory, "drafts are invisible to conflict detection")
	if assert.Len(t, audit.entries, 1) {
		assert.Equal(t, model.ActionCreateReservation, audit.entries[0].Action)
	}
}

func TestCreate_DirectSubmitReturnsAdvisoryConflicts(t *testing.T) {
	other := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		createFn: func(ctx context.Context, res *model.Reservation) error { return nil },
		findOverlappingFn: func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
			return []model.Reservation{*other}, nil
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, advisory, err := svc.Create(context.Background(), testActor, CreateReservationRequest{
		Title:         "Competing meeting",
		Locations:     []string{"R101"},
		StartDateTime: testSlotStart,
		EndDateTime:   testSlotEnd,
		Submit:        true,
	})

	// The competing active reservation is reported but never blocks
	// submission: exclusivity is enforced at approval.
	assert.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	if assert.Len(t, advisory, 1) {
		assert.Equal(t, other.Title, advisory[0].EventTitle)
	}
}

func TestCreate_UnknownRoomRejected(t *testing.T) {
	repo := &mockReservationRepo{}
	rooms := &mockRoomRepo{
		codesExistFn: func(ctx context.Context, codes []string) ([]string, error) {
			return []string{"R101"}, nil // R999 unknown
		},
	}
	svc := newTestService(repo, rooms, &mockAuditRepo{})

	_, _, err := svc.Create(context.Background(), testActor, CreateReservationRequest{
		Title:         "Meeting",
		Locations:     []string{"R101", "R999"},
		StartDateTime: testSlotStart,
		EndDateTime:   testSlotEnd,
	})

	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "R999")
	assert.Zero(t, repo.writes)
}

func TestCreate_DirectSubmitValidatesWindow(t *testing.T) {
	repo := &mockReservationRepo{}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, _, err := svc.Create(context.Background(), testActor, CreateReservationRequest{
		Title:         "Backwards meeting",
		Locations:     []string{"R101"},
		StartDateTime: testSlotEnd,
		EndDateTime:   testSlotStart,
		Submit:        true,
	})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

// --- Submit ---

func TestSubmit_GuardsOnSourceStatusAndVersion(t *testing.T) {
	current := draftReservation()
	var captured repository.Guard
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = guard
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	version := int64(1)
	res, _, err := svc.Submit(context.Background(), current.ID.String(), testActor, Precondition{ExpectedVersion: &version})

	assert.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, int64(2), res.Version, "version advances by exactly one")
	assert.NotEqual(t, current.ChangeKey, res.ChangeKey, "change key rotates on every write")
	if assert.NotNil(t, captured.ExpectedStatus) {
		assert.Equal(t, model.StatusDraft, *captured.ExpectedStatus)
	}
	if assert.NotNil(t, captured.ExpectedVersion) {
		assert.Equal(t, int64(1), *captured.ExpectedVersion)
	}
}

func TestSubmit_ConflictScanFailureBlocksWrite(t *testing.T) {
	current := draftReservation()
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		findOverlappingFn: func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, _, err := svc.Submit(context.Background(), current.ID.String(), testActor, Precondition{})

	// A scan that cannot run must surface as an error, never as a clean
	// advisory list on a committed write.
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "conflict scan failed")
	assert.Zero(t, repo.writes)
}

func TestSubmit_NonDraftRejected(t *testing.T) {
	current := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, _, err := svc.Submit(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

func TestSubmit_IncompleteDraftRejected(t *testing.T) {
	current := draftReservation()
	current.Locations = nil // on-site with no room
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, _, err := svc.Submit(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

// --- Edit ---

func TestEdit_VersionConflictCarriesLiveState(t *testing.T) {
	current := draftReservation()
	live := *current
	live.Version = 5
	conflict := &apperr.VersionConflictError{
		CurrentVersion:   5,
		CurrentStatus:    string(live.Status),
		CurrentChangeKey: live.ChangeKey,
		Live:             &live,
	}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			return nil, conflict
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	title := "New title"
	version := int64(1)
	_, err := svc.Edit(context.Background(), current.ID.String(), testActor,
		model.ReservationPatch{Title: &title}, Precondition{ExpectedVersion: &version})

	var vc *apperr.VersionConflictError
	if assert.ErrorAs(t, err, &vc) {
		assert.Equal(t, int64(5), vc.CurrentVersion)
		assert.NotNil(t, vc.Live, "live document rides along for the 409 snapshot")
	}
}

func TestEdit_EmptyPatchRejected(t *testing.T) {
	repo := &mockReservationRepo{}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Edit(context.Background(), uuid.NewString(), testActor, model.ReservationPatch{}, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

func TestEdit_PublishedRejected(t *testing.T) {
	current := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	title := "Direct edit"
	_, err := svc.Edit(context.Background(), current.ID.String(), testActor,
		model.ReservationPatch{Title: &title}, Precondition{})

	assert.True(t, apperr.IsValidation(err), "published reservations take the edit-request path")
	assert.Zero(t, repo.writes)
}

// --- Approve ---

func TestApprove_BlockedBySchedulingConflict(t *testing.T) {
	current := withStatus(model.StatusPending)
	other := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		findOverlappingFn: func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
			assert.Equal(t, current.ID, excludeID)
			return []model.Reservation{*other}, nil
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Approve(context.Background(), current.ID.String(), testActor, ApproveRequest{}, Precondition{})

	var sc *apperr.SchedulingConflictError
	if assert.ErrorAs(t, err, &sc) {
		assert.Len(t, sc.Conflicts, 1)
	}
	assert.Zero(t, repo.writes, "a blocked approve writes nothing")
}

func TestApprove_AppliesReviewerEditsAtomically(t *testing.T) {
	current := withStatus(model.StatusPending)
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	audit := &mockAuditRepo{}
	svc := newTestService(repo, &mockRoomRepo{}, audit)

	title := "Architecture sync (moved)"
	res, err := svc.Approve(context.Background(), current.ID.String(), testActor, ApproveRequest{
		Edits:       model.ReservationPatch{Title: &title},
		ReviewNotes: "room changed per requester",
	}, Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, "published", res.Status)
	assert.Equal(t, model.StatusPublished, captured["status"])
	assert.Equal(t, title, captured["title"], "reviewer edits land in the same write as the status change")
	assert.Equal(t, "room changed per requester", captured["review_notes"])
	if assert.Len(t, audit.entries, 1) {
		assert.Equal(t, model.ActionApproveReservation, audit.entries[0].Action)
	}
}

func TestApprove_NonPendingRejected(t *testing.T) {
	current := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Approve(context.Background(), current.ID.String(), testActor, ApproveRequest{}, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

// --- Reject / Resubmit ---

func TestReject_RequiresReason(t *testing.T) {
	repo := &mockReservationRepo{}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Reject(context.Background(), uuid.NewString(), testActor, RejectRequest{Reason: "  "}, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

func TestReject_BlockResubmissionIsPersisted(t *testing.T) {
	current := withStatus(model.StatusPending)
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Reject(context.Background(), current.ID.String(), testActor,
		RejectRequest{Reason: "room under renovation", BlockResubmission: true}, Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, model.StatusRejected, captured["status"])
	assert.Equal(t, "room under renovation", captured["rejection_reason"])
	assert.Equal(t, false, captured["resubmission_allowed"])
}

func TestResubmit_BlockedIsPermissionDeniedWithZeroWrites(t *testing.T) {
	current := withStatus(model.StatusRejected)
	current.ResubmissionAllowed = false
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, _, err := svc.Resubmit(context.Background(), current.ID.String(), testActor, model.ReservationPatch{}, Precondition{})

	assert.True(t, apperr.IsPermissionDenied(err))
	assert.Zero(t, repo.writes)
}

func TestResubmit_ClearsRejectionReason(t *testing.T) {
	current := withStatus(model.StatusRejected)
	current.RejectionReason = "double booked"
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, _, err := svc.Resubmit(context.Background(), current.ID.String(), testActor, model.ReservationPatch{}, Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, "", captured["rejection_reason"])
	assert.Empty(t, res.RejectionReason)
}

// --- Cancel / Delete / Restore ---

func TestCancel_RecordsPreviousStatus(t *testing.T) {
	current := withStatus(model.StatusPublished)
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Cancel(context.Background(), current.ID.String(), testActor, "event postponed", Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, captured["status"])
	assert.Equal(t, model.StatusPublished, captured["previous_status"])
	assert.Equal(t, "event postponed", captured["cancel_reason"])
}

func TestCancel_ClosesPendingEditRequest(t *testing.T) {
	title := "Staged change"
	current := withStatus(model.StatusPublished)
	current.PendingEditRequest = &model.EditRequest{
		Status:      model.EditRequestPending,
		Payload:     model.ReservationPatch{Title: &title},
		SubmittedBy: testActor,
	}
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Cancel(context.Background(), current.ID.String(), testActor, "event postponed", Precondition{})

	// A pending edit request must not outlive the published status it
	// was staged against; the cancel write closes it as rejected.
	assert.NoError(t, err)
	if assert.Contains(t, captured, "pending_edit_request") {
		expr, ok := captured["pending_edit_request"].(clause.Expr)
		if assert.True(t, ok) && assert.Len(t, expr.Vars, 1) {
			assert.Contains(t, expr.Vars[0].(string), `"status":"rejected"`)
		}
	}
}

func TestDelete_ClosesPendingEditRequest(t *testing.T) {
	title := "Staged change"
	current := withStatus(model.StatusPublished)
	current.PendingEditRequest = &model.EditRequest{
		Status:      model.EditRequestPending,
		Payload:     model.ReservationPatch{Title: &title},
		SubmittedBy: testActor,
	}
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Delete(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.NoError(t, err)
	if assert.Contains(t, captured, "pending_edit_request") {
		expr, ok := captured["pending_edit_request"].(clause.Expr)
		if assert.True(t, ok) && assert.Len(t, expr.Vars, 1) {
			assert.Contains(t, expr.Vars[0].(string), `"status":"rejected"`)
		}
	}
}

func TestCancel_WithoutEditRequestLeavesColumnAlone(t *testing.T) {
	current := withStatus(model.StatusPublished)
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Cancel(context.Background(), current.ID.String(), testActor, "event postponed", Precondition{})

	assert.NoError(t, err)
	assert.NotContains(t, captured, "pending_edit_request")
}

func TestRestore_BlockedBySchedulingConflict(t *testing.T) {
	prev := model.StatusPublished
	current := withStatus(model.StatusCancelled)
	current.PreviousStatus = &prev
	other := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		findOverlappingFn: func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
			return []model.Reservation{*other}, nil
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Restore(context.Background(), current.ID.String(), testActor, Precondition{})

	var sc *apperr.SchedulingConflictError
	assert.ErrorAs(t, err, &sc)
	assert.Zero(t, repo.writes, "a conflicted restore is blocked before any write")
}

func TestRestore_NonActiveTargetSkipsConflictScan(t *testing.T) {
	// A draft deleted and restored returns to draft, which occupies no
	// slot, so the conflict scan must not run at all.
	prev := model.StatusDraft
	current := withStatus(model.StatusDeleted)
	current.PreviousStatus = &prev
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		findOverlappingFn: func(ctx context.Context, rooms []string, start, end time.Time, excludeID uuid.UUID) ([]model.Reservation, error) {
			return nil, errors.New("conflict scan must not run for non-active targets")
		},
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, err := svc.Restore(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, "draft", res.Status)
}

func TestRestore_WithoutPreviousStatusRejected(t *testing.T) {
	current := withStatus(model.StatusCancelled) // PreviousStatus nil
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Restore(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

// --- Edit requests ---

func TestRequestEdit_SecondRequestRejected(t *testing.T) {
	current := withStatus(model.StatusPublished)
	current.PendingEditRequest = &model.EditRequest{Status: model.EditRequestPending}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	title := "Another change"
	_, err := svc.RequestEdit(context.Background(), current.ID.String(), testActor,
		model.ReservationPatch{Title: &title}, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

func TestApproveEditRequest_AppliesStagedPayload(t *testing.T) {
	title := "Town hall (rescheduled)"
	current := withStatus(model.StatusPublished)
	current.PendingEditRequest = &model.EditRequest{
		Status:      model.EditRequestPending,
		Payload:     model.ReservationPatch{Title: &title},
		SubmittedBy: testActor,
	}
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, err := svc.ApproveEditRequest(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, "published", res.Status, "approving an edit request never changes the lifecycle status")
	assert.Equal(t, title, captured["title"])
	assert.Nil(t, captured["pending_edit_request"], "the staged request is consumed")
}

func TestApproveEditRequest_WithoutPendingRequest(t *testing.T) {
	current := withStatus(model.StatusPublished)
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.ApproveEditRequest(context.Background(), current.ID.String(), testActor, Precondition{})

	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, repo.writes)
}

func TestRejectEditRequest_LiveFieldsUntouched(t *testing.T) {
	title := "Proposed change"
	current := withStatus(model.StatusPublished)
	current.PendingEditRequest = &model.EditRequest{
		Status:      model.EditRequestPending,
		Payload:     model.ReservationPatch{Title: &title},
		SubmittedBy: testActor,
	}
	var captured map[string]interface{}
	repo := &mockReservationRepo{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Reservation, error) { return current, nil },
		guardedUpdateFn: func(ctx context.Context, id uuid.UUID, mutation map[string]interface{}, guard repository.Guard) (*model.Reservation, error) {
			captured = mutation
			return passthroughUpdate(current)(ctx, id, mutation, guard)
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, err := svc.RejectEditRequest(context.Background(), current.ID.String(), testActor, "too close to the date", Precondition{})

	assert.NoError(t, err)
	assert.Equal(t, current.Title, res.Title, "the staged payload never reaches the live fields")
	assert.NotContains(t, captured, "title")
	assert.Contains(t, captured, "pending_edit_request", "the request is kept as a rejected record")
}

// --- Lookup ---

func TestGet_FallsBackToEventID(t *testing.T) {
	current := draftReservation()
	repo := &mockReservationRepo{
		getByEventIDFn: func(ctx context.Context, eventID string) (*model.Reservation, error) {
			assert.Equal(t, current.EventID, eventID)
			return current, nil
		},
	}
	svc := newTestService(repo, &mockRoomRepo{}, &mockAuditRepo{})

	res, err := svc.Get(context.Background(), current.EventID)

	assert.NoError(t, err)
	assert.Equal(t, current.ID.String(), res.ID)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(&mockReservationRepo{}, &mockRoomRepo{}, &mockAuditRepo{})

	_, err := svc.Get(context.Background(), uuid.NewString())

	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
