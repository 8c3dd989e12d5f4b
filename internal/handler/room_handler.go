package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	roomService service.RoomService
	perms       *middleware.PermissionChecker
}

func NewRoomHandler(roomService service.RoomService, perms *middleware.PermissionChecker) *RoomHandler {
	return &RoomHandler{roomService: roomService, perms: perms}
}

func (h *RoomHandler) RegisterRoutes(router *gin.RouterGroup) {
	rooms := router.Group("/api/rooms")
	rooms.Use(middleware.RequireRole(model.RoleAdmin, model.RoleReviewer, model.RoleRequester))
	{
		rooms.GET("", h.ListRooms)

		write := rooms.Group("")
		write.Use(h.perms.Require(model.PermRoomsWrite))
		{
			write.POST("", h.CreateRoom)
			write.PUT("/:code", h.UpdateRoom)
		}
	}
}

// ListRooms returns the room catalogue. Deactivated rooms are included
// only when include_inactive=true.
// @Summary      List rooms
// @Tags         rooms
// @Security     BearerAuth
// @Produce      json
// @Param        include_inactive  query     bool  false  "Include deactivated rooms"
// @Success      200               {object}  response.Response{data=[]service.RoomResponse}
// @Router       /api/rooms [get]
func (h *RoomHandler) ListRooms(c *gin.Context) {
	activeOnly := c.Query("include_inactive") != "true"
	rooms, err := h.roomService.ListRooms(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rooms))
}

// CreateRoom adds a room to the catalogue.
// @Summary      Create room
// @Tags         rooms
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateRoomRequest  true  "Room"
// @Success      201      {object}  response.Response{data=service.RoomResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/rooms [post]
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req service.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), actorID(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, room))
}

// UpdateRoom changes catalogue fields by room code. Setting
// is_active=false retires the room from new bookings without touching
// reservations that already reference it.
// @Summary      Update room
// @Tags         rooms
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        code     path      string                     true  "Room code"
// @Param        payload  body      service.UpdateRoomRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.RoomResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/rooms/{code} [put]
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	var req service.UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	room, err := h.roomService.UpdateRoom(c.Request.Context(), actorID(c), c.Param("code"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, room))
}
