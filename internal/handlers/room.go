package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/handlers/dto"
	"github.com/thereayou/convoy/internal/middleware"
	"github.com/thereayou/convoy/internal/models"
	"github.com/thereayou/convoy/internal/services"
)

const defaultMaxMembers = 10

type RoomHandler struct {
	coordinator  *services.RoomCoordinator
	defaultHours int
	log          *logrus.Entry
}

// NewRoomHandler defaultHours подставляется, если клиент не указал срок жизни комнаты
func NewRoomHandler(coordinator *services.RoomCoordinator, defaultHours int, log *logrus.Entry) *RoomHandler {
	if defaultHours <= 0 {
		defaultHours = 24
	}
	return &RoomHandler{
		coordinator:  coordinator,
		defaultHours: defaultHours,
		log:          log.WithField("component", "room_handler"),
	}
}

// roomIDParam разбирает :id; при ошибке ответ уже отправлен
func roomIDParam(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return uuid.Nil, false
	}
	return roomID, true
}

// CreateRoom создает новую комнату, создатель становится владельцем
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxMembers := req.MaxMembers
	if maxMembers == 0 {
		maxMembers = defaultMaxMembers
	}
	hours := req.ExpiresInHours
	if hours == 0 {
		hours = h.defaultHours
	}

	view, err := h.coordinator.CreateRoom(c.Request.Context(), services.CreateRoomInput{
		Name: req.Name,
		Destination: models.Destination{
			Name:      req.Destination.Name,
			Latitude:  *req.Destination.Latitude,
			Longitude: *req.Destination.Longitude,
		},
		MaxMembers:     maxMembers,
		ExpiresInHours: hours,
		CreatorID:      userID,
		Nickname:       req.Nickname,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// JoinRoom вход по шестизначному коду
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.coordinator.JoinRoom(c.Request.Context(), req.Code, userID, req.Nickname)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.IsRejoining {
		status = http.StatusOK
	}
	c.JSON(status, dto.JoinRoomResponse{
		Room:        res.Room,
		IsRejoining: res.IsRejoining,
		JoinOrder:   res.Member.JoinOrder,
	})
}

// GetUserRooms активные комнаты текущего пользователя
func (h *RoomHandler) GetUserRooms(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	rooms, err := h.coordinator.GetUserRooms(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	result := make([]dto.RoomSummary, len(rooms))
	for i := range rooms {
		result[i] = dto.NewRoomSummary(&rooms[i])
	}
	c.JSON(http.StatusOK, gin.H{"rooms": result})
}

// GetRoom детали комнаты, доступны только участникам
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	view, err := h.coordinator.GetRoomDetails(c.Request.Context(), roomID, &userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// LeaveRoom выход из комнаты; повторный выход не ошибка
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	member, err := h.coordinator.LeaveRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.LeaveRoomResponse{
		RoomID: roomID,
		Status: member.Status,
		LeftAt: member.LeftAt,
	})
}

func (h *RoomHandler) TransferOwnership(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req dto.TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.coordinator.TransferOwnership(c.Request.Context(), roomID, userID, req.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CloseRoom досрочное завершение комнаты владельцем
func (h *RoomHandler) CloseRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if err := h.coordinator.CloseRoom(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "room closed"})
}
