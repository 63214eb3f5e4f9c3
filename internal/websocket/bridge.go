package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/events"
)

// Bridge доставляет события из Redis pub/sub подписчикам комнат на этом инстансе
type Bridge struct {
	client    *redis.Client
	hub       *Hub
	keyPrefix string
	log       *logrus.Entry
}

func NewBridge(client *redis.Client, hub *Hub, keyPrefix string, log *logrus.Entry) *Bridge {
	return &Bridge{
		client:    client,
		hub:       hub,
		keyPrefix: keyPrefix,
		log:       log.WithField("component", "pubsub_bridge"),
	}
}

// Run подписывается на каналы всех комнат и работает до отмены ctx
func (b *Bridge) Run(ctx context.Context) error {
	pattern := events.ChannelPattern(b.keyPrefix)
	pubsub := b.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	b.log.WithField("pattern", pattern).Info("pubsub bridge started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg *redis.Message) {
	roomID, err := events.RoomFromChannel(b.keyPrefix, msg.Channel)
	if err != nil {
		b.log.WithError(err).Warn("ignoring message from unknown channel")
		return
	}
	var head struct {
		Type   events.Type `json:"type"`
		UserID *uuid.UUID  `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
		b.log.WithError(err).WithField("channel", msg.Channel).Warn("ignoring malformed event")
		return
	}

	b.hub.SendToRoom(roomID, []byte(msg.Payload))
	switch {
	case head.Type.Terminal():
		b.hub.CloseRoom(roomID)
	case head.Type == events.TypeMemberLeft && head.UserID != nil:
		// вышедший участник больше не получает события комнаты ни на одном инстансе
		b.hub.UnsubscribeUser(*head.UserID, roomID)
	}
}
