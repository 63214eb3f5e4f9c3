package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomView денормализованное представление комнаты: его отдаёт API и хранит кэш
type RoomView struct {
	ID          uuid.UUID    `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Destination Destination  `json:"destination"`
	CreatedBy   uuid.UUID    `json:"created_by"`
	OwnerID     uuid.UUID    `json:"owner_id"`
	MaxMembers  int          `json:"max_members"`
	Status      RoomStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	MemberCount int          `json:"member_count"`
	Members     []MemberView `json:"members"`
}

type MemberView struct {
	UserID    uuid.UUID  `json:"user_id"`
	Nickname  string     `json:"nickname"`
	Role      MemberRole `json:"role"`
	JoinOrder int        `json:"join_order"`
	JoinedAt  time.Time  `json:"joined_at"`
}

func NewMemberView(m *RoomMember) MemberView {
	return MemberView{
		UserID:    m.UserID,
		Nickname:  m.Nickname,
		Role:      m.Role,
		JoinOrder: m.JoinOrder,
		JoinedAt:  m.JoinedAt,
	}
}

// NewRoomView собирает представление из комнаты и её активных участников (по порядку входа)
func NewRoomView(room *Room, active []RoomMember) *RoomView {
	v := &RoomView{
		ID:          room.ID,
		Code:        room.Code,
		Name:        room.Name,
		Destination: room.Destination,
		CreatedBy:   room.CreatedBy,
		MaxMembers:  room.MaxMembers,
		Status:      room.Status,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ExpiresAt:   room.ExpiresAt,
		CompletedAt: room.CompletedAt,
		Members:     make([]MemberView, 0, len(active)),
	}
	for i := range active {
		if active[i].IsOwner() {
			v.OwnerID = active[i].UserID
		}
		v.Members = append(v.Members, NewMemberView(&active[i]))
	}
	v.MemberCount = len(v.Members)
	return v
}

func (v *RoomView) HasMember(userID uuid.UUID) bool {
	for _, m := range v.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
