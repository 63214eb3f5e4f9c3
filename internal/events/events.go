// Package events описывает события комнаты, которые уходят в pub/sub и в websocket-соединения.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type тип события
type Type string

const (
	// Системные
	TypePing  Type = "ping"
	TypePong  Type = "pong"
	TypeError Type = "error"

	// От клиента
	TypeRoomSubscribe   Type = "room_subscribe"
	TypeRoomUnsubscribe Type = "room_unsubscribe"
	TypeLocationStop    Type = "location_stop"

	// От клиента и в комнату
	TypeLocationUpdate Type = "location_update"
	TypeChatMessage    Type = "chat_message"

	// В комнату
	TypeRoomSnapshot Type = "room_snapshot"
	TypeLocationAck  Type = "location_ack"
	TypeMemberJoined Type = "member_joined"
	TypeMemberLeft   Type = "member_left"
	TypeOwnerChanged Type = "owner_changed"
	TypeUserLeft     Type = "user_left"
	TypeUserOffline  Type = "user_offline"
	TypeRoomClosed   Type = "room_closed"
	TypeRoomExpired  Type = "room_expired"
)

// Terminal события, после которых подписки на комнату снимаются
func (t Type) Terminal() bool {
	return t == TypeRoomClosed || t == TypeRoomExpired
}

type Envelope struct {
	Type      Type            `json:"type"`
	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New собирает событие; uuid.Nil в roomID или userID опускается
func New(t Type, roomID, userID uuid.UUID, data interface{}) (*Envelope, error) {
	evt := &Envelope{Type: t, Timestamp: time.Now().UTC()}
	if roomID != uuid.Nil {
		evt.RoomID = &roomID
	}
	if userID != uuid.Nil {
		evt.UserID = &userID
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("events: marshal %s payload: %w", t, err)
		}
		evt.Data = raw
	}
	return evt, nil
}

// Decode разбирает полезную нагрузку события в dst
func (e *Envelope) Decode(dst interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("events: %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ErrorPayload тело события error
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// LeftPayload тело user_left и user_offline
type LeftPayload struct {
	Reason string `json:"reason"`
}

// OwnerChangedPayload тело owner_changed
type OwnerChangedPayload struct {
	PreviousOwnerID uuid.UUID `json:"previous_owner_id"`
	OwnerID         uuid.UUID `json:"owner_id"`
}

const channelSuffix = ":updates"

// Channel канал обновлений комнаты
func Channel(prefix string, roomID uuid.UUID) string {
	return fmt.Sprintf("%sroom:%s%s", prefix, roomID, channelSuffix)
}

// ChannelPattern шаблон для PSUBSCRIBE на все комнаты
func ChannelPattern(prefix string) string {
	return prefix + "room:*" + channelSuffix
}

// RoomFromChannel достаёт id комнаты из имени канала
func RoomFromChannel(prefix, channel string) (uuid.UUID, error) {
	rest := strings.TrimPrefix(channel, prefix+"room:")
	if rest == channel || !strings.HasSuffix(rest, channelSuffix) {
		return uuid.Nil, fmt.Errorf("events: unexpected channel %q", channel)
	}
	return uuid.Parse(strings.TrimSuffix(rest, channelSuffix))
}
