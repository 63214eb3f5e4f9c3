package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/convoy/internal/models"
)

type DestinationRequest struct {
	Name      string   `json:"name" binding:"required"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type CreateRoomRequest struct {
	Name           string             `json:"name" binding:"required,max=100"`
	Destination    DestinationRequest `json:"destination" binding:"required"`
	MaxMembers     int                `json:"max_members"`
	ExpiresInHours int                `json:"expires_in_hours"`
	Nickname       string             `json:"nickname" binding:"max=64"`
}

type JoinRoomRequest struct {
	Code     string `json:"code" binding:"required"`
	Nickname string `json:"nickname" binding:"max=64"`
}

type TransferOwnershipRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type JoinRoomResponse struct {
	Room        *models.RoomView `json:"room"`
	IsRejoining bool             `json:"is_rejoining"`
	JoinOrder   int              `json:"join_order"`
}

type LeaveRoomResponse struct {
	RoomID uuid.UUID           `json:"room_id"`
	Status models.MemberStatus `json:"status"`
	LeftAt *time.Time          `json:"left_at,omitempty"`
}

// RoomSummary комната в списке пользователя
type RoomSummary struct {
	ID          uuid.UUID          `json:"id"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Destination models.Destination `json:"destination"`
	MaxMembers  int                `json:"max_members"`
	Status      models.RoomStatus  `json:"status"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
}

func NewRoomSummary(r *models.Room) RoomSummary {
	return RoomSummary{
		ID:          r.ID,
		Code:        r.Code,
		Name:        r.Name,
		Destination: r.Destination,
		MaxMembers:  r.MaxMembers,
		Status:      r.Status,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
