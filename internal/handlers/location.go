package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/handlers/dto"
	"github.com/thereayou/convoy/internal/middleware"
	"github.com/thereayou/convoy/internal/services"
)

type LocationHandler struct {
	presence    *services.Presence
	coordinator *services.RoomCoordinator
	log         *logrus.Entry
}

func NewLocationHandler(presence *services.Presence, coordinator *services.RoomCoordinator, log *logrus.Entry) *LocationHandler {
	return &LocationHandler{presence: presence, coordinator: coordinator, log: log.WithField("component", "location_handler")}
}

func toLocationUpdate(p *dto.LocationPayload, clientID uuid.UUID) (services.LocationUpdate, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return services.LocationUpdate{}, false
	}
	live := true
	if p.IsLive != nil {
		live = *p.IsLive
	}
	return services.LocationUpdate{
		Latitude:   *p.Latitude,
		Longitude:  *p.Longitude,
		Accuracy:   p.Accuracy,
		Speed:      p.Speed,
		Bearing:    p.Bearing,
		Heading:    p.Heading,
		Altitude:   p.Altitude,
		Battery:    p.Battery,
		DeviceInfo: p.DeviceInfo,
		IsLive:     live,
		ClientID:   clientID,
	}, true
}

// UpdateLocation публикует точку без WebSocket; подтверждение приходит в теле ответа
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req dto.LocationPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	upd, _ := toLocationUpdate(&req, uuid.Nil)

	sample, err := h.presence.UpdateLocation(c.Request.Context(), roomID, userID, c.GetString(middleware.DisplayNameKey), upd)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	touch(c.Request.Context(), h.coordinator, h.log, roomID, userID)
	c.JSON(http.StatusOK, sample)
}

// GetLocations текущие точки остальных участников
func (h *LocationHandler) GetLocations(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	if _, err := h.coordinator.IsActiveMember(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}
	samples, err := h.presence.Snapshot(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": samples})
}
