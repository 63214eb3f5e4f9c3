package services

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
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/models"
)

// Deliverer доставка события одному соединению
type Deliverer interface {
	SendToClient(clientID uuid.UUID, evt *events.Envelope) error
}

// DropReason почему пользователь перестал делиться местоположением
type DropReason string

const (
	ReasonLeft       DropReason = "left"
	ReasonDisconnect DropReason = "disconnect"
	ReasonStopped    DropReason = "stopped"
)

type PresenceOptions struct {
	LocationTTL time.Duration
	// RateLimit обновлений в секунду на пользователя; 0 отключает ограничение
	RateLimit int
	Clock     func() time.Time
}

// LocationUpdate координаты от клиента. ClientID соединения, которому уходит подтверждение.
type LocationUpdate struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Speed      *float64
	Bearing    *float64
	Heading    *float64
	Altitude   *float64
	Battery    *int
	DeviceInfo string
	IsLive     bool
	ClientID   uuid.UUID
}

// Presence хранит последние точки участников с коротким TTL и рассылает их в комнату
type Presence struct {
	client    *redis.Client
	keyPrefix string
	members   MembershipChecker
	publisher events.Publisher
	deliverer Deliverer
	ttl       time.Duration
	rateLimit int
	now       func() time.Time
	log       *logrus.Entry
}

func NewPresence(client *redis.Client, keyPrefix string, members MembershipChecker, publisher events.Publisher, opts PresenceOptions, log *logrus.Entry) *Presence {
	if client == nil {
		panic("redis client cannot be nil for Presence")
	}
	if opts.LocationTTL <= 0 {
		opts.LocationTTL = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = utcNow
	}
	return &Presence{
		client:    client,
		keyPrefix: keyPrefix,
		members:   members,
		publisher: publisher,
		ttl:       opts.LocationTTL,
		rateLimit: opts.RateLimit,
		now:       opts.Clock,
		log:       log.WithField("component", "presence"),
	}
}

// SetDeliverer подключает доставку подтверждений; хаб создаётся позже сервисов
func (p *Presence) SetDeliverer(d Deliverer) {
	p.deliverer = d
}

func (p *Presence) locationKey(roomID, userID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s:location:%s", p.keyPrefix, roomID, userID)
}

func (p *Presence) sharingKey(roomID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s:sharing", p.keyPrefix, roomID)
}

func (p *Presence) rateKey(roomID, userID uuid.UUID) string {
	return fmt.Sprintf("%sratelimit:location:%s:%s", p.keyPrefix, roomID, userID)
}

// UpdateLocation сохраняет точку, публикует её в комнату и подтверждает отправителю. Последняя запись побеждает.
func (p *Presence) UpdateLocation(ctx context.Context, roomID, userID uuid.UUID, displayName string, upd LocationUpdate) (*models.LocationSample, error) {
	if !models.ValidCoordinates(upd.Latitude, upd.Longitude) {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}
	if upd.Battery != nil && (*upd.Battery < 0 || *upd.Battery > 100) {
		return nil, fmt.Errorf("%w: battery must be within 0..100", ErrInvalidInput)
	}

	member, err := p.members.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if err := p.checkRate(ctx, roomID, userID); err != nil {
		return nil, err
	}

	name := member.Nickname
	if name == "" {
		name = displayName
	}
	sample := &models.LocationSample{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: name,
		Latitude:    upd.Latitude,
		Longitude:   upd.Longitude,
		Accuracy:    upd.Accuracy,
		Speed:       upd.Speed,
		Bearing:     upd.Bearing,
		Heading:     upd.Heading,
		Altitude:    upd.Altitude,
		Battery:     upd.Battery,
		DeviceInfo:  upd.DeviceInfo,
		Timestamp:   p.now(),
		IsLive:      upd.IsLive,
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("marshal location: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.locationKey(roomID, userID), data, p.ttl)
		pipe.SAdd(ctx, p.sharingKey(roomID), userID.String())
		pipe.Expire(ctx, p.sharingKey(roomID), p.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store location for %s in %s: %w", userID, roomID, err)
	}

	logCtx := p.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	if evt, err := events.New(events.TypeLocationUpdate, roomID, userID, sample); err == nil {
		if err := p.publisher.Publish(ctx, roomID, evt); err != nil {
			logCtx.WithError(err).Warn("failed to publish location update")
		}
	}
	if upd.ClientID != uuid.Nil && p.deliverer != nil {
		if evt, err := events.New(events.TypeLocationAck, roomID, userID, sample); err == nil {
			if err := p.deliverer.SendToClient(upd.ClientID, evt); err != nil {
				logCtx.WithError(err).WithField("client_id", upd.ClientID).Debug("location ack not delivered")
			}
		}
	}
	return sample, nil
}

func (p *Presence) checkRate(ctx context.Context, roomID, userID uuid.UUID) error {
	if p.rateLimit <= 0 {
		return nil
	}
	key := p.rateKey(roomID, userID)
	pipe := p.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		// лимитер не должен блокировать обновления при сбое Redis
		p.log.WithError(err).WithField("key", key).Warn("location rate limit check failed")
		return nil
	}
	if incr.Val() > int64(p.rateLimit) {
		return ErrRateLimited
	}
	return nil
}

// Snapshot текущие точки всех делящихся участников, кроме excluding. Истёкшие убираются из набора.
func (p *Presence) Snapshot(ctx context.Context, roomID, excluding uuid.UUID) ([]models.LocationSample, error) {
	ids, err := p.client.SMembers(ctx, p.sharingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sharing members of %s: %w", roomID, err)
	}

	userIDs := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil || id == excluding {
			continue
		}
		userIDs = append(userIDs, id)
	}
	if len(userIDs) == 0 {
		return []models.LocationSample{}, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Get(ctx, p.locationKey(roomID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load locations of %s: %w", roomID, err)
	}

	samples := make([]models.LocationSample, 0, len(userIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, userIDs[i].String())
			continue
		}
		var s models.LocationSample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			p.log.WithError(err).WithField("user_id", userIDs[i]).Warn("skipping malformed location sample")
			continue
		}
		samples = append(samples, s)
	}
	if len(stale) > 0 {
		if err := p.client.SRem(ctx, p.sharingKey(roomID), stale...).Err(); err != nil {
			p.log.WithError(err).WithField("room_id", roomID).Warn("failed to prune expired locations")
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, nil
}

// DropUser удаляет точку пользователя и сообщает комнате: user_left при выходе, иначе user_offline
func (p *Presence) DropUser(ctx context.Context, roomID, userID uuid.UUID, reason DropReason) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.locationKey(roomID, userID))
		pipe.SRem(ctx, p.sharingKey(roomID), userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop location of %s in %s: %w", userID, roomID, err)
	}

	t := events.TypeUserOffline
	if reason == ReasonLeft {
		t = events.TypeUserLeft
	}
	evt, err := events.New(t, roomID, userID, events.LeftPayload{Reason: string(reason)})
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, roomID, evt)
}

// PurgeRoom удаляет все точки комнаты, включая те, что уже выпали из набора
func (p *Presence) PurgeRoom(ctx context.Context, roomID uuid.UUID) error {
	keys := []string{p.sharingKey(roomID)}
	iter := p.client.Scan(ctx, 0, fmt.Sprintf("%sroom:%s:location:*", p.keyPrefix, roomID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan locations of %s: %w", roomID, err)
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge locations of %s: %w", roomID, err)
	}
	return nil
}
