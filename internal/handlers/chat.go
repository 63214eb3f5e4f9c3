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

// ChatHandler HTTP-доступ к чату комнаты (альтернатива WebSocket)
type ChatHandler struct {
	chat *services.ChatLog
	log  *logrus.Entry
}

func NewChatHandler(chat *services.ChatLog, log *logrus.Entry) *ChatHandler {
	return &ChatHandler{chat: chat, log: log.WithField("component", "chat_handler")}
}

// GetRoomMessages история сообщений от старых к новым
func (h *ChatHandler) GetRoomMessages(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	messages, err := h.chat.History(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req dto.MessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chat.Append(c.Request.Context(), roomID, userID, c.GetString(middleware.DisplayNameKey), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
