package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/convoy/internal/models"
)

func (d *Database) CreateRoom(ctx context.Context, room *models.Room) error {
	return mapError(d.db.WithContext(ctx).Create(room).Error)
}

func (d *Database) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := d.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &room, nil
}

// FindActiveRoomByCode ищет комнату по коду среди нетерминальных
func (d *Database) FindActiveRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := d.db.WithContext(ctx).
		Where("code = ? AND status = ?", code, models.RoomActive).
		First(&room).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &room, nil
}

func (d *Database) IsCodeInUse(ctx context.Context, code string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Room{}).
		Where("code = ? AND status = ?", code, models.RoomActive).
		Count(&count).Error
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

// GetUserRooms активные комнаты, где пользователь активный участник, свежие первыми
func (d *Database) GetUserRooms(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	err := d.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ? AND room_members.status = ? AND rooms.status = ?",
			userID, models.MemberActive, models.RoomActive).
		Order("rooms.updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, mapError(err)
	}
	return rooms, nil
}

func (d *Database) TouchRoom(ctx context.Context, roomID uuid.UUID, now time.Time) error {
	return mapError(d.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("updated_at", now).Error)
}

// CloseRoom переводит активную комнату в closed; возвращает число затронутых строк
func (d *Database) CloseRoom(ctx context.Context, roomID uuid.UUID, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ?", roomID, models.RoomActive).
		Updates(map[string]interface{}{
			"status":       models.RoomClosed,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, mapError(res.Error)
}

// ExpireRoom переводит комнату в expired, только если она всё ещё активна и срок прошёл
func (d *Database) ExpireRoom(ctx context.Context, roomID uuid.UUID, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ? AND expires_at < ?", roomID, models.RoomActive, now).
		Updates(map[string]interface{}{
			"status":       models.RoomExpired,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, mapError(res.Error)
}

// FindExpiredRooms активные комнаты с истёкшим сроком
func (d *Database) FindExpiredRooms(ctx context.Context, now time.Time, limit int) ([]models.Room, error) {
	var rooms []models.Room
	q := d.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.RoomActive, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, mapError(err)
	}
	return rooms, nil
}
