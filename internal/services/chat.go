package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/models"
)

const maxChatContentLength = 2000

type ChatOptions struct {
	TTL         time.Duration
	MaxMessages int64
	Clock       func() time.Time
}

// ChatLog ограниченный по длине и времени журнал сообщений комнаты
type ChatLog struct {
	client      *redis.Client
	keyPrefix   string
	members     MembershipChecker
	publisher   events.Publisher
	ttl         time.Duration
	maxMessages int64
	now         func() time.Time
	log         *logrus.Entry
}

func NewChatLog(client *redis.Client, keyPrefix string, members MembershipChecker, publisher events.Publisher, opts ChatOptions, log *logrus.Entry) *ChatLog {
	if client == nil {
		panic("redis client cannot be nil for ChatLog")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 500
	}
	if opts.Clock == nil {
		opts.Clock = utcNow
	}
	return &ChatLog{
		client:      client,
		keyPrefix:   keyPrefix,
		members:     members,
		publisher:   publisher,
		ttl:         opts.TTL,
		maxMessages: opts.MaxMessages,
		now:         opts.Clock,
		log:         log.WithField("component", "chat"),
	}
}

func (c *ChatLog) key(roomID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s:chat", c.keyPrefix, roomID)
}

// Append добавляет сообщение и публикует его в комнату; отправитель получает его через свою подписку
func (c *ChatLog) Append(ctx context.Context, roomID, userID uuid.UUID, displayName, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxChatContentLength {
		return nil, fmt.Errorf("%w: message must be 1..%d characters", ErrInvalidInput, maxChatContentLength)
	}

	member, err := c.members.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	name := member.Nickname
	if name == "" {
		name = displayName
	}

	msg := &models.ChatMessage{
		ID:          uuid.New(),
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: name,
		Content:     content,
		Timestamp:   c.now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal chat message: %w", err)
	}

	key := c.key(roomID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, c.maxMessages-1)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append chat message to %s: %w", roomID, err)
	}

	if evt, err := events.New(events.TypeChatMessage, roomID, userID, msg); err == nil {
		if err := c.publisher.Publish(ctx, roomID, evt); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"room_id":    roomID,
				"message_id": msg.ID,
			}).Warn("failed to publish chat message")
		}
	}
	return msg, nil
}

// History сохранённые сообщения от старых к новым
func (c *ChatLog) History(ctx context.Context, roomID, userID uuid.UUID) ([]models.ChatMessage, error) {
	if _, err := c.members.IsActiveMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return c.load(ctx, roomID)
}

func (c *ChatLog) load(ctx context.Context, roomID uuid.UUID) ([]models.ChatMessage, error) {
	raw, err := c.client.LRange(ctx, c.key(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load chat history of %s: %w", roomID, err)
	}

	messages := make([]models.ChatMessage, 0, len(raw))
	// LPUSH кладёт новые в начало
	for i := len(raw) - 1; i >= 0; i-- {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			c.log.WithError(err).WithField("room_id", roomID).Warn("skipping malformed chat message")
			continue
		}
		messages = append(messages, m)
	}
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })
	return messages, nil
}

func (c *ChatLog) Purge(ctx context.Context, roomID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(roomID)).Err(); err != nil {
		return fmt.Errorf("purge chat of %s: %w", roomID, err)
	}
	return nil
}
