package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backend/internal/apperr"
	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/repository"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ReservationHandler struct {
	reservationService service.ReservationService
	perms              *middleware.PermissionChecker
}

func NewReservationHandler(reservationService service.ReservationService, perms *middleware.PermissionChecker) *ReservationHandler {
	return &ReservationHandler{reservationService: reservationService, perms: perms}
}

func (h *ReservationHandler) RegisterRoutes(router *gin.RouterGroup) {
	reservations := router.Group("/api/reservations")
	reservations.Use(middleware.RequireRole(model.RoleAdmin, model.RoleReviewer, model.RoleRequester))
	{
		reservations.POST("", h.Create)
		reservations.GET("", h.List)
		reservations.GET("/:id", h.Get)
		reservations.PUT("/:id", h.Edit)
		reservations.POST("/:id/submit", h.Submit)
		reservations.POST("/:id/cancel", h.Cancel)
		reservations.DELETE("/:id", h.Delete)
		reservations.POST("/:id/restore", h.Restore)
		reservations.POST("/:id/resubmit", h.Resubmit)
		reservations.POST("/:id/edit-request", h.RequestEdit)

		review := reservations.Group("")
		review.Use(h.perms.Require(model.PermReservationsReview))
		{
			review.POST("/:id/approve", h.Approve)
			review.POST("/:id/reject", h.Reject)
			review.POST("/:id/edit-request/approve", h.ApproveEditRequest)
			review.POST("/:id/edit-request/reject", h.RejectEditRequest)
		}
	}
}

// Create creates a reservation as a draft, or directly in pending when
// the payload sets submit=true.
// @Summary      Create reservation
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateReservationRequest  true  "Reservation"
// @Success      201      {object}  response.Response{data=service.ReservationResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/reservations [post]
func (h *ReservationHandler) Create(c *gin.Context) {
	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, advisory, err := h.reservationService.Create(c.Request.Context(), actorID(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":            "success",
		"status_code":       http.StatusCreated,
		"data":              res,
		"conflict_warnings": advisory,
	})
}

// List returns reservations filtered by status, room and date range.
// @Summary      List reservations
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        status  query  string  false  "Status filter"
// @Param        room    query  string  false  "Room code filter"
// @Param        from    query  string  false  "Window start (RFC3339)"
// @Param        to      query  string  false  "Window end (RFC3339)"
// @Success      200     {object}  response.Response
// @Router       /api/reservations [get]
func (h *ReservationHandler) List(c *gin.Context) {
	params := pagination.Parse(c)

	filter := repository.ReservationFilter{
		Status: c.Query("status"),
		Room:   c.Query("room"),
		Page:   params.Page,
		Limit:  params.Limit,
	}
	if from, err := parseTimeQuery(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	} else {
		filter.From = from
	}
	if to, err := parseTimeQuery(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	} else {
		filter.To = to
	}
	if mine := c.Query("created_by"); mine != "" {
		id, err := uuid.Parse(mine)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid created_by filter"))
			return
		}
		filter.CreatedBy = &id
	}

	reservations, total, err := h.reservationService.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": http.StatusOK,
		"data":   reservations,
		"total":  total,
		"page":   params.Page,
		"limit":  params.Limit,
	})
}

// Get returns a single reservation with its current version/changeKey.
// @Summary      Get reservation
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Reservation id or event id"
// @Success      200  {object}  response.Response{data=service.ReservationResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/reservations/{id} [get]
func (h *ReservationHandler) Get(c *gin.Context) {
	res, err := h.reservationService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.Header("ETag", `"`+res.ChangeKey+`"`)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Edit applies a field patch to a draft or pending reservation. The
// request must carry the last-observed lock handle.
// @Summary      Edit reservation in place
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id        path      string                  true   "Reservation id"
// @Param        If-Match  header    string                  false  "Last observed changeKey"
// @Param        payload   body      model.ReservationPatch  true   "Field patch"
// @Success      200       {object}  response.Response{data=service.ReservationResponse}
// @Failure      409       {object}  response.Response
// @Router       /api/reservations/{id} [put]
func (h *ReservationHandler) Edit(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	if !pre.Supplied() {
		c.JSON(http.StatusPreconditionRequired, response.Error(http.StatusPreconditionRequired,
			"If-Match header or expected_version is required for edits"))
		return
	}

	var patch model.ReservationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.reservationService.Edit(c.Request.Context(), c.Param("id"), actorID(c), patch, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Submit moves a draft into the review queue.
func (h *ReservationHandler) Submit(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	res, advisory, err := h.reservationService.Submit(c.Request.Context(), c.Param("id"), actorID(c), pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"status_code":       http.StatusOK,
		"data":              res,
		"conflict_warnings": advisory,
	})
}

// Approve publishes a pending reservation, optionally applying reviewer
// edits atomically with the status change.
func (h *ReservationHandler) Approve(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var req service.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Empty body means approve as-is
		req = service.ApproveRequest{}
	}

	res, err := h.reservationService.Approve(c.Request.Context(), c.Param("id"), actorID(c), req, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Reject declines a pending reservation; the reason is mandatory and
// block_resubmission permanently locks the request out of resubmission.
func (h *ReservationHandler) Reject(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var req service.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "rejection reason is required"))
		return
	}

	res, err := h.reservationService.Reject(c.Request.Context(), c.Param("id"), actorID(c), req, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Cancel withdraws a pending or published reservation.
func (h *ReservationHandler) Cancel(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var req service.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "cancel reason is required"))
		return
	}

	res, err := h.reservationService.Cancel(c.Request.Context(), c.Param("id"), actorID(c), req.Reason, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Delete soft-deletes; the reservation stays restorable.
func (h *ReservationHandler) Delete(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	res, err := h.reservationService.Delete(c.Request.Context(), c.Param("id"), actorID(c), pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Restore returns a cancelled or deleted reservation to the status it
// held before, provided its slot is still free.
func (h *ReservationHandler) Restore(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	res, err := h.reservationService.Restore(c.Request.Context(), c.Param("id"), actorID(c), pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Resubmit sends a rejected reservation back to review, optionally with
// fixes applied in the same write.
func (h *ReservationHandler) Resubmit(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var patch model.ReservationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		patch = model.ReservationPatch{}
	}

	res, advisory, err := h.reservationService.Resubmit(c.Request.Context(), c.Param("id"), actorID(c), patch, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"status_code":       http.StatusOK,
		"data":              res,
		"conflict_warnings": advisory,
	})
}

// RequestEdit stages a change set against a published reservation.
func (h *ReservationHandler) RequestEdit(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var patch model.ReservationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.reservationService.RequestEdit(c.Request.Context(), c.Param("id"), actorID(c), patch, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// ApproveEditRequest applies the staged payload to the live document.
func (h *ReservationHandler) ApproveEditRequest(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	res, err := h.reservationService.ApproveEditRequest(c.Request.Context(), c.Param("id"), actorID(c), pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// RejectEditRequest discards the staged payload; the reservation stays
// published with its live fields untouched.
func (h *ReservationHandler) RejectEditRequest(c *gin.Context) {
	pre, ok := parsePrecondition(c)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Notes = ""
	}

	res, err := h.reservationService.RejectEditRequest(c.Request.Context(), c.Param("id"), actorID(c), req.Notes, pre)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// --- helpers ---

func actorID(c *gin.Context) string {
	v, _ := c.Get("userID")
	s, _ := v.(string)
	return s
}

// parsePrecondition reads the optimistic-lock handle from the If-Match
// header (changeKey) or the expected_version query parameter. A false
// return means the response has already been written.
func parsePrecondition(c *gin.Context) (service.Precondition, bool) {
	var pre service.Precondition
	if match := c.GetHeader("If-Match"); match != "" {
		pre.ChangeKey = strings.Trim(match, `W/" `)
	}
	if raw := c.Query("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid expected_version"))
			return pre, false
		}
		pre.ExpectedVersion = &v
	}
	return pre, true
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s: expected RFC3339 timestamp", name)
	}
	return &t, nil
}

// writeServiceError maps the error taxonomy onto the HTTP contract:
// races are 409 with a field-level snapshot, illegal transitions are
// 422 (a client logic error, not a race), blocked capability is 403.
func writeServiceError(c *gin.Context, err error) {
	var versionConflict *apperr.VersionConflictError
	var schedulingConflict *apperr.SchedulingConflictError
	var validation *apperr.ValidationError
	var denied *apperr.PermissionDeniedError

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "resource not found"))
	case errors.As(err, &versionConflict):
		body := gin.H{
			"error":                   "VERSION_CONFLICT",
			"current_version":         versionConflict.CurrentVersion,
			"current_status":          versionConflict.CurrentStatus,
			"change_key":              versionConflict.CurrentChangeKey,
			"last_modified_by":        versionConflict.LastModifiedBy,
			"last_modified_date_time": versionConflict.LastModifiedDateTime,
		}
		if versionConflict.Live != nil {
			body["changes"] = service.ExtractConflictSnapshot(versionConflict.Live, service.ReservationConflictFields)
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &schedulingConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "SCHEDULING_CONFLICT",
			"conflicts": schedulingConflict.Conflicts,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, validation.Msg))
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, denied.Msg))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}
