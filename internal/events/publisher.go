package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher рассылает события подписчикам комнаты
type Publisher interface {
	Publish(ctx context.Context, roomID uuid.UUID, evt *Envelope) error
}

// RedisPublisher публикует события в канал комнаты; доставку до сокетов делает Bridge на каждом инстансе
type RedisPublisher struct {
	client    *redis.Client
	keyPrefix string
	log       *logrus.Entry
}

func NewRedisPublisher(client *redis.Client, keyPrefix string, log *logrus.Entry) *RedisPublisher {
	if client == nil {
		panic("redis client cannot be nil for RedisPublisher")
	}
	return &RedisPublisher{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log.WithField("component", "publisher"),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, roomID uuid.UUID, evt *Envelope) error {
	if evt.RoomID == nil {
		evt.RoomID = &roomID
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	channel := Channel(p.keyPrefix, roomID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.WithFields(logrus.Fields{
			"channel":      channel,
			"event":        evt.Type,
			"payload_size": len(payload),
		}).WithError(err).Error("redis publish failed")
		return fmt.Errorf("events: publish %s to %s: %w", evt.Type, channel, err)
	}
	return nil
}
