package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

type MemberStatus string

const (
	MemberActive MemberStatus = "active"
	MemberLeft   MemberStatus = "left"
)

// RoomMember одна строка на пару (room, user); повторный вход реактивирует её
type RoomMember struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey"`
	RoomID     uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_room_members_room_user;uniqueIndex:idx_room_members_room_order"`
	UserID     uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_room_members_room_user;index"`
	Nickname   string       `gorm:"size:64"`
	Role       MemberRole   `gorm:"size:16;not null;check:role IN ('owner','member')"`
	Status     MemberStatus `gorm:"size:16;not null;index;check:status IN ('active','left')"`
	JoinOrder  int          `gorm:"not null;uniqueIndex:idx_room_members_room_order;check:join_order > 0"`
	JoinedAt   time.Time
	LeftAt     *time.Time
	LastSeenAt time.Time
}

func (m *RoomMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m *RoomMember) IsActive() bool {
	return m.Status == MemberActive
}

func (m *RoomMember) IsOwner() bool {
	return m.Status == MemberActive && m.Role == RoleOwner
}
