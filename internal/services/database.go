package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/models"
)

// Store долговременное хранилище комнат. Мутации участников идут только через Transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx *database.Database) error) error

	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	FindActiveRoomByCode(ctx context.Context, code string) (*models.Room, error)
	IsCodeInUse(ctx context.Context, code string) (bool, error)
	GetUserRooms(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
	FindExpiredRooms(ctx context.Context, now time.Time, limit int) ([]models.Room, error)
	ExpireRoom(ctx context.Context, roomID uuid.UUID, now time.Time) (int64, error)

	GetMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error)
	ActiveMembers(ctx context.Context, roomID uuid.UUID) ([]models.RoomMember, error)
	TouchMember(ctx context.Context, roomID, userID uuid.UUID, now time.Time) error
}

var _ Store = (*database.Database)(nil)

func utcNow() time.Time {
	return time.Now().UTC()
}
