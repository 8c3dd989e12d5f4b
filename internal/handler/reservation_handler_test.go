package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func testContext(target string, header http.Header) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPut, target, nil)
	if header != nil {
		req.Header = header
	}
	c.Request = req
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteServiceError_NotFound(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	writeServiceError(c, apperr.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteServiceError_ValidationIs422(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	writeServiceError(c, apperr.Validation("cannot approve a draft reservation"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "cannot approve")
}

func TestWriteServiceError_PermissionDeniedIs403(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	writeServiceError(c, apperr.PermissionDenied("resubmission blocked"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWriteServiceError_VersionConflictBody(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	live := &model.Reservation{
		Title:     "Live title",
		Status:    model.StatusPending,
		Version:   7,
		ChangeKey: "live-key",
	}
	writeServiceError(c, &apperr.VersionConflictError{
		CurrentVersion:       7,
		CurrentStatus:        "pending",
		CurrentChangeKey:     "live-key",
		LastModifiedBy:       "someone-else",
		LastModifiedDateTime: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
		Live:                 live,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "VERSION_CONFLICT", body["error"])
	assert.Equal(t, float64(7), body["current_version"])
	assert.Equal(t, "pending", body["current_status"])
	assert.Equal(t, "someone-else", body["last_modified_by"])

	// The field-level snapshot covers every client-editable field.
	changes, ok := body["changes"].([]interface{})
	if assert.True(t, ok, "409 must carry a changes array") {
		assert.Len(t, changes, len(service.ReservationConflictFields))
		first, _ := changes[0].(map[string]interface{})
		assert.Equal(t, "title", first["field"])
		assert.Equal(t, "Live title", first["current_value"])
	}
}

func TestWriteServiceError_SchedulingConflictBody(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	writeServiceError(c, &apperr.SchedulingConflictError{
		Conflicts: []apperr.SchedulingConflictEntry{
			{
				ReservationID: "abc",
				EventTitle:    "Competing event",
				StartDateTime: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
				EndDateTime:   time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC),
			},
		},
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "SCHEDULING_CONFLICT", body["error"])
	conflicts, ok := body["conflicts"].([]interface{})
	if assert.True(t, ok) {
		assert.Len(t, conflicts, 1)
		entry, _ := conflicts[0].(map[string]interface{})
		assert.Equal(t, "Competing event", entry["event_title"])
	}
}

func TestWriteServiceError_UnknownIs500(t *testing.T) {
	c, w := testContext("/api/reservations/x", nil)

	writeServiceError(c, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestParsePrecondition_IfMatchHeader(t *testing.T) {
	header := http.Header{}
	header.Set("If-Match", `W/"abc-123"`)
	c, _ := testContext("/api/reservations/x", header)

	pre, ok := parsePrecondition(c)

	assert.True(t, ok)
	assert.True(t, pre.Supplied())
	assert.Equal(t, "abc-123", pre.ChangeKey)
	assert.Nil(t, pre.ExpectedVersion)
}

func TestParsePrecondition_ExpectedVersionQuery(t *testing.T) {
	c, _ := testContext("/api/reservations/x?expected_version=4", nil)

	pre, ok := parsePrecondition(c)

	assert.True(t, ok)
	if assert.NotNil(t, pre.ExpectedVersion) {
		assert.Equal(t, int64(4), *pre.ExpectedVersion)
	}
}

func TestParsePrecondition_InvalidVersion(t *testing.T) {
	c, w := testContext("/api/reservations/x?expected_version=banana", nil)

	_, ok := parsePrecondition(c)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePrecondition_Absent(t *testing.T) {
	c, _ := testContext("/api/reservations/x", nil)

	pre, ok := parsePrecondition(c)

	assert.True(t, ok)
	assert.False(t, pre.Supplied())
}
