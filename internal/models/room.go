package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoomStatus string

const (
	RoomActive  RoomStatus = "active"
	RoomExpired RoomStatus = "expired"
	RoomClosed  RoomStatus = "closed"
)

const (
	MinRoomMembers = 2
	MaxRoomMembers = 50
	RoomCodeLength = 6
)

// Destination точка сбора группы
type Destination struct {
	Name      string  `json:"name" gorm:"not null"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Room struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Code        string      `gorm:"size:6;not null;index:idx_rooms_active_code,unique,where:status = 'active'"`
	Name        string      `gorm:"not null"`
	Destination Destination `gorm:"embedded;embeddedPrefix:destination_"`
	CreatedBy   uuid.UUID   `gorm:"type:uuid;not null"`
	MaxMembers  int         `gorm:"not null;default:10;check:max_members BETWEEN 2 AND 50"`
	Status      RoomStatus  `gorm:"size:16;not null;index;check:status IN ('active','expired','closed')"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time `gorm:"index"`
	CompletedAt *time.Time

	// Связи
	Members []RoomMember `gorm:"foreignKey:RoomID"`
}

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// CanTransition разрешает только active -> expired|closed, оба состояния терминальные
func (r *Room) CanTransition(to RoomStatus) bool {
	if r.Status != RoomActive {
		return false
	}
	return to == RoomExpired || to == RoomClosed
}

func (r *Room) IsExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// RemainingLifetime время до истечения комнаты; ноль, если срок прошёл или не задан
func (r *Room) RemainingLifetime(now time.Time) time.Duration {
	if r.ExpiresAt == nil {
		return 0
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
