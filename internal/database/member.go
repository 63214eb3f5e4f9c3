package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/convoy/internal/models"
)

func (d *Database) CreateMember(ctx context.Context, member *models.RoomMember) error {
	return mapError(d.db.WithContext(ctx).Create(member).Error)
}

// GetMember строка участника независимо от статуса
func (d *Database) GetMember(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	var member models.RoomMember
	err := d.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &member, nil
}

func (d *Database) CountActiveMembers(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND status = ?", roomID, models.MemberActive).
		Count(&count).Error
	return count, mapError(err)
}

// MaxJoinOrder наибольший порядок входа среди всех строк комнаты, включая покинувших
func (d *Database) MaxJoinOrder(ctx context.Context, roomID uuid.UUID) (int, error) {
	var max int
	err := d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(join_order), 0)").
		Scan(&max).Error
	return max, mapError(err)
}

// ActiveMembers активные участники в порядке входа
func (d *Database) ActiveMembers(ctx context.Context, roomID uuid.UUID) ([]models.RoomMember, error) {
	var members []models.RoomMember
	err := d.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, models.MemberActive).
		Order("join_order ASC").
		Find(&members).Error
	if err != nil {
		return nil, mapError(err)
	}
	return members, nil
}

// ReactivateMember возвращает покинувшего участника; роль всегда member
func (d *Database) ReactivateMember(ctx context.Context, memberID uuid.UUID, nickname string, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("id = ? AND status = ?", memberID, models.MemberLeft).
		Updates(map[string]interface{}{
			"status":       models.MemberActive,
			"role":         models.RoleMember,
			"nickname":     nickname,
			"left_at":      nil,
			"last_seen_at": now,
		})
	return res.RowsAffected, mapError(res.Error)
}

// MarkMemberLeft условное обновление active -> left
func (d *Database) MarkMemberLeft(ctx context.Context, memberID uuid.UUID, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("id = ? AND status = ?", memberID, models.MemberActive).
		Updates(map[string]interface{}{
			"status":       models.MemberLeft,
			"role":         models.RoleMember,
			"left_at":      now,
			"last_seen_at": now,
		})
	return res.RowsAffected, mapError(res.Error)
}

// NextOwnerCandidate активный участник с наименьшим порядком входа, кроме exclude
func (d *Database) NextOwnerCandidate(ctx context.Context, roomID, exclude uuid.UUID) (*models.RoomMember, error) {
	var member models.RoomMember
	err := d.db.WithContext(ctx).
		Where("room_id = ? AND status = ? AND user_id <> ?", roomID, models.MemberActive, exclude).
		Order("join_order ASC").
		First(&member).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &member, nil
}

func (d *Database) SetMemberRole(ctx context.Context, memberID uuid.UUID, role models.MemberRole) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("id = ? AND status = ?", memberID, models.MemberActive).
		Update("role", role)
	return res.RowsAffected, mapError(res.Error)
}

func (d *Database) TouchMember(ctx context.Context, roomID, userID uuid.UUID, now time.Time) error {
	return mapError(d.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ? AND status = ?", roomID, userID, models.MemberActive).
		Update("last_seen_at", now).Error)
}
