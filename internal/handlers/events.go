package handlers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/handlers/dto"
	"github.com/thereayou/convoy/internal/services"
	"github.com/thereayou/convoy/internal/websocket"
)

// EventHandler обрабатывает события, пришедшие по WebSocket
type EventHandler struct {
	hub         *websocket.Hub
	coordinator *services.RoomCoordinator
	presence    *services.Presence
	chat        *services.ChatLog
	log         *logrus.Entry
}

func NewEventHandler(hub *websocket.Hub, coordinator *services.RoomCoordinator, presence *services.Presence, chat *services.ChatLog, log *logrus.Entry) *EventHandler {
	return &EventHandler{
		hub:         hub,
		coordinator: coordinator,
		presence:    presence,
		chat:        chat,
		log:         log.WithField("component", "event_handler"),
	}
}

// HandleMessage отказ уходит клиенту событием error с машинным кодом
func (h *EventHandler) HandleMessage(ctx context.Context, client *websocket.Client, evt *events.Envelope) error {
	err := h.dispatch(ctx, client, evt)
	if err != nil {
		_, code := classify(err)
		switch {
		case errors.Is(err, websocket.ErrInvalidMessage):
			code = "invalid_message"
		case errors.Is(err, websocket.ErrNotSubscribed):
			code = "not_subscribed"
		}
		msg := err.Error()
		if code == "internal_error" {
			h.log.WithError(err).WithField("event", evt.Type).Error("event handling failed")
			msg = "internal server error"
		}
		client.SendError(msg, code)
	}
	return err
}

func (h *EventHandler) dispatch(ctx context.Context, client *websocket.Client, evt *events.Envelope) error {
	if evt.Type == events.TypePong {
		return nil
	}
	if evt.RoomID == nil || *evt.RoomID == uuid.Nil {
		return websocket.ErrInvalidMessage
	}
	roomID := *evt.RoomID

	switch evt.Type {
	case events.TypeRoomSubscribe:
		return h.subscribe(ctx, client, roomID)

	case events.TypeRoomUnsubscribe:
		if h.hub.Unsubscribe(client, roomID) {
			return h.presence.DropUser(ctx, roomID, client.UserID, services.ReasonDisconnect)
		}
		return nil

	case events.TypeLocationUpdate:
		if !client.IsInRoom(roomID) {
			return websocket.ErrNotSubscribed
		}
		var payload dto.LocationPayload
		if err := evt.Decode(&payload); err != nil {
			return websocket.ErrInvalidMessage
		}
		upd, ok := toLocationUpdate(&payload, client.ID)
		if !ok {
			return websocket.ErrInvalidMessage
		}
		if _, err := h.presence.UpdateLocation(ctx, roomID, client.UserID, client.DisplayName, upd); err != nil {
			return err
		}
		touch(ctx, h.coordinator, h.log, roomID, client.UserID)
		return nil

	case events.TypeChatMessage:
		if !client.IsInRoom(roomID) {
			return websocket.ErrNotSubscribed
		}
		var payload dto.MessagePayload
		if err := evt.Decode(&payload); err != nil {
			return websocket.ErrInvalidMessage
		}
		_, err := h.chat.Append(ctx, roomID, client.UserID, client.DisplayName, payload.Content)
		return err

	case events.TypeLocationStop:
		if !client.IsInRoom(roomID) {
			return websocket.ErrNotSubscribed
		}
		return h.presence.DropUser(ctx, roomID, client.UserID, services.ReasonStopped)

	default:
		h.log.WithField("event", evt.Type).Debug("unknown event type")
		return websocket.ErrInvalidMessage
	}
}

// subscribe подписывает соединение и присылает ему текущее состояние комнаты.
// Подписка оформляется до чтения состояния, чтобы не потерять события между ними.
func (h *EventHandler) subscribe(ctx context.Context, client *websocket.Client, roomID uuid.UUID) error {
	userID := client.UserID
	if _, err := h.coordinator.IsActiveMember(ctx, roomID, userID); err != nil {
		return err
	}
	if !h.hub.Subscribe(client, roomID) {
		h.log.WithFields(logrus.Fields{"client_id": client.ID, "room_id": roomID}).Debug("connection closed before subscribe")
		return nil
	}

	view, err := h.coordinator.GetRoomDetails(ctx, roomID, &userID)
	if err != nil {
		h.hub.Unsubscribe(client, roomID)
		return err
	}
	locations, err := h.presence.Snapshot(ctx, roomID, userID)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Warn("failed to load locations for snapshot")
	}
	messages, err := h.chat.History(ctx, roomID, userID)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Warn("failed to load chat history for snapshot")
	}

	online := h.hub.GetRoomUsers(roomID)
	onlineIDs := make([]string, len(online))
	for i, id := range online {
		onlineIDs[i] = id.String()
	}

	return client.SendMessage(events.TypeRoomSnapshot, roomID, dto.RoomSnapshotPayload{
		Room:        view,
		Locations:   locations,
		Messages:    messages,
		OnlineUsers: onlineIDs,
	})
}

// touch last_seen участника; сбой не мешает обновлению местоположения
func touch(ctx context.Context, coordinator *services.RoomCoordinator, log *logrus.Entry, roomID, userID uuid.UUID) {
	if err := coordinator.Touch(ctx, roomID, userID); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Debug("failed to touch member")
	}
}
