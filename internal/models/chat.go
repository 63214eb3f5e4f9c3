package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage живёт только в Redis в пределах окна хранения
type ChatMessage struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}
