package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/models"
)

// MembershipChecker проверка активного участия по долговременному хранилищу
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error)
}

type Membership struct {
	db  Store
	now func() time.Time
}

func NewMembership(db Store, now func() time.Time) *Membership {
	if now == nil {
		now = utcNow
	}
	return &Membership{db: db, now: now}
}

// IsActiveMember участник активен в активной, не истёкшей комнате
func (m *Membership) IsActiveMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	room, err := m.db.GetRoom(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if room.Status != models.RoomActive {
		return nil, ErrInactive
	}
	if room.IsExpiredAt(m.now()) {
		return nil, ErrExpired
	}

	member, err := m.db.GetMember(ctx, roomID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", userID, err)
	}
	if !member.IsActive() {
		return nil, ErrNotMember
	}
	return member, nil
}
