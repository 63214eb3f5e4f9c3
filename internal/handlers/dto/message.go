package dto

import "github.com/thereayou/convoy/internal/models"

// MessagePayload входящее сообщение чата (HTTP и chat_message по WebSocket)
type MessagePayload struct {
	Content string `json:"content" binding:"required"`
}

// LocationPayload входящая точка (HTTP и location_update по WebSocket)
type LocationPayload struct {
	Latitude   *float64 `json:"latitude" binding:"required"`
	Longitude  *float64 `json:"longitude" binding:"required"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Bearing    *float64 `json:"bearing,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
	Altitude   *float64 `json:"altitude,omitempty"`
	Battery    *int     `json:"battery,omitempty"`
	DeviceInfo string   `json:"device_info,omitempty"`
	IsLive     *bool    `json:"is_live,omitempty"`
}

// RoomSnapshotPayload первое событие после подписки на комнату
type RoomSnapshotPayload struct {
	Room        *models.RoomView        `json:"room"`
	Locations   []models.LocationSample `json:"locations"`
	Messages    []models.ChatMessage    `json:"messages"`
	OnlineUsers []string                `json:"online_users"`
}
