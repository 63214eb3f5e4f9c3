// Package cache хранит производный снимок комнаты в Redis. Источник истины всегда база.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/models"
)

const schemaVersion = 1

var (
	ErrMiss    = errors.New("cache: miss")
	ErrInvalid = errors.New("cache: invalid snapshot")
)

// RoomSnapshot закэшированная комната без участников; участники лежат в отдельном хеше
type RoomSnapshot struct {
	SchemaVersion int             `json:"v"`
	Room          models.RoomView `json:"room"`
	CachedAt      time.Time       `json:"cached_at"`
}

func (s *RoomSnapshot) validate() error {
	switch {
	case s.SchemaVersion != schemaVersion:
		return fmt.Errorf("%w: schema version %d", ErrInvalid, s.SchemaVersion)
	case s.Room.ID == uuid.Nil:
		return fmt.Errorf("%w: empty room id", ErrInvalid)
	case len(s.Room.Code) != models.RoomCodeLength:
		return fmt.Errorf("%w: bad code %q", ErrInvalid, s.Room.Code)
	case s.Room.MaxMembers < models.MinRoomMembers || s.Room.MaxMembers > models.MaxRoomMembers:
		return fmt.Errorf("%w: max members %d", ErrInvalid, s.Room.MaxMembers)
	}
	switch s.Room.Status {
	case models.RoomActive, models.RoomExpired, models.RoomClosed:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalid, s.Room.Status)
	}
	return nil
}

var addMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`)

var removeMemberScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`)

var storeIfAbsentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("DEL", KEYS[2])
for i = 3, #ARGV, 2 do
	redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
if #ARGV > 2 then
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`)

type SnapshotCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       *logrus.Entry
}

func NewSnapshotCache(client *redis.Client, keyPrefix string, ttl time.Duration, log *logrus.Entry) *SnapshotCache {
	if client == nil {
		panic("redis client cannot be nil for SnapshotCache")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		log:       log.WithField("component", "snapshot_cache"),
	}
}

func (c *SnapshotCache) snapshotKey(roomID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s:snapshot", c.keyPrefix, roomID)
}

func (c *SnapshotCache) membersKey(roomID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s:members", c.keyPrefix, roomID)
}

// Get снимок с участниками по порядку входа. Повреждённый снимок удаляется и считается промахом.
func (c *SnapshotCache) Get(ctx context.Context, roomID uuid.UUID) (*models.RoomView, error) {
	pipe := c.client.Pipeline()
	snapCmd := pipe.Get(ctx, c.snapshotKey(roomID))
	membersCmd := pipe.HGetAll(ctx, c.membersKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache: get room %s: %w", roomID, err)
	}

	raw, err := snapCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get room %s: %w", roomID, err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.repair(ctx, roomID, err)
		return nil, ErrMiss
	}
	if err := snap.validate(); err != nil {
		c.repair(ctx, roomID, err)
		return nil, ErrMiss
	}

	fields := membersCmd.Val()
	if len(fields) == 0 {
		// снимок без набора участников неполон
		return nil, ErrMiss
	}
	members := make([]models.MemberView, 0, len(fields))
	for userID, data := range fields {
		var m models.MemberView
		if err := json.Unmarshal([]byte(data), &m); err != nil || m.UserID.String() != userID {
			c.repair(ctx, roomID, fmt.Errorf("member %s: %v", userID, err))
			return nil, ErrMiss
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinOrder < members[j].JoinOrder })

	view := snap.Room
	view.Members = members
	view.MemberCount = len(members)
	view.OwnerID = uuid.Nil
	for _, m := range members {
		if m.Role == models.RoleOwner {
			view.OwnerID = m.UserID
		}
	}
	return &view, nil
}

func (c *SnapshotCache) repair(ctx context.Context, roomID uuid.UUID, cause error) {
	c.log.WithError(cause).WithField("room_id", roomID).Warn("dropping malformed room snapshot")
	if err := c.Invalidate(ctx, roomID); err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("failed to drop malformed snapshot")
	}
}

// Store целиком перезаписывает снимок и участников, TTL выставляется заново
func (c *SnapshotCache) Store(ctx context.Context, view *models.RoomView) error {
	data, fields, err := encodeView(view)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.snapshotKey(view.ID), data, c.ttl)
		pipe.Del(ctx, c.membersKey(view.ID))
		if len(fields) > 0 {
			pipe.HSet(ctx, c.membersKey(view.ID), fields)
			pipe.Expire(ctx, c.membersKey(view.ID), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: store room %s: %w", view.ID, err)
	}
	return nil
}

// StoreIfAbsent пишет снимок, только если его ещё нет. Для заполнения из чтения:
// снимок, записанный мутацией координатора, новее любого чтения из базы.
func (c *SnapshotCache) StoreIfAbsent(ctx context.Context, view *models.RoomView) (bool, error) {
	data, fields, err := encodeView(view)
	if err != nil {
		return false, err
	}
	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, data, c.ttl.Milliseconds())
	for userID, member := range fields {
		args = append(args, userID, member)
	}
	keys := []string{c.snapshotKey(view.ID), c.membersKey(view.ID)}
	written, err := storeIfAbsentScript.Run(ctx, c.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("cache: store room %s if absent: %w", view.ID, err)
	}
	return written == 1, nil
}

func encodeView(view *models.RoomView) ([]byte, map[string]interface{}, error) {
	snap := RoomSnapshot{SchemaVersion: schemaVersion, Room: *view, CachedAt: time.Now().UTC()}
	snap.Room.Members = nil
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: marshal room %s: %w", view.ID, err)
	}

	fields := make(map[string]interface{}, len(view.Members))
	for _, m := range view.Members {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: marshal member %s: %w", m.UserID, err)
		}
		fields[m.UserID.String()] = string(b)
	}
	return data, fields, nil
}

// AddMember добавляет или обновляет участника и обновляет TTL обоих ключей.
// Если снимка нет, ничего не пишет и возвращает false: вызывающий должен сохранить снимок целиком.
func (c *SnapshotCache) AddMember(ctx context.Context, roomID uuid.UUID, member models.MemberView) (bool, error) {
	b, err := json.Marshal(member)
	if err != nil {
		return false, fmt.Errorf("cache: marshal member %s: %w", member.UserID, err)
	}
	keys := []string{c.snapshotKey(roomID), c.membersKey(roomID)}
	applied, err := addMemberScript.Run(ctx, c.client, keys, member.UserID.String(), string(b), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache: add member %s to %s: %w", member.UserID, roomID, err)
	}
	return applied == 1, nil
}

func (c *SnapshotCache) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	keys := []string{c.snapshotKey(roomID), c.membersKey(roomID)}
	applied, err := removeMemberScript.Run(ctx, c.client, keys, userID.String(), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache: remove member %s from %s: %w", userID, roomID, err)
	}
	return applied == 1, nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, roomID uuid.UUID) error {
	if err := c.client.Del(ctx, c.snapshotKey(roomID), c.membersKey(roomID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", roomID, err)
	}
	return nil
}
