package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/handlers/dto"
	"github.com/thereayou/convoy/internal/models"
	"github.com/thereayou/convoy/internal/services"
	"github.com/thereayou/convoy/internal/websocket"
)

func (a *testApp) connect(t *testing.T, userID uuid.UUID, name string) *websocket.Client {
	t.Helper()
	client := websocket.NewClient(a.hub, nil, userID, name)
	before := a.hub.ClientCount()
	a.hub.Register(client)
	require.Eventually(t, func() bool { return a.hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return client
}

func nextEvent(t *testing.T, c *websocket.Client) *events.Envelope {
	t.Helper()
	select {
	case raw := <-c.Send:
		var evt events.Envelope
		require.NoError(t, json.Unmarshal(raw, &evt))
		return &evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func event(t *testing.T, typ events.Type, roomID uuid.UUID, data interface{}) *events.Envelope {
	t.Helper()
	evt, err := events.New(typ, roomID, uuid.Nil, data)
	require.NoError(t, err)
	return evt
}

func TestSubscribeSendsRoomSnapshot(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	owner, guest := uuid.New(), uuid.New()
	room := app.createRoom(t, app.tokenFor(t, owner, "Owner"))
	app.joinRoom(t, app.tokenFor(t, guest, "Guest"), room.Code)

	_, err := app.presence.UpdateLocation(ctx, room.ID, owner, "Owner", services.LocationUpdate{Latitude: 1, Longitude: 2, IsLive: true})
	require.NoError(t, err)
	_, err = app.chat.Append(ctx, room.ID, owner, "Owner", "hello")
	require.NoError(t, err)

	client := app.connect(t, guest, "Guest")
	require.NoError(t, app.events.HandleMessage(ctx, client, event(t, events.TypeRoomSubscribe, room.ID, nil)))
	assert.True(t, client.IsInRoom(room.ID))

	evt := nextEvent(t, client)
	require.Equal(t, events.TypeRoomSnapshot, evt.Type)
	var snap dto.RoomSnapshotPayload
	require.NoError(t, evt.Decode(&snap))
	assert.Equal(t, 2, snap.Room.MemberCount)
	require.Len(t, snap.Locations, 1)
	assert.Equal(t, owner, snap.Locations[0].UserID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hello", snap.Messages[0].Content)
	assert.Contains(t, snap.OnlineUsers, guest.String())
}

func TestSubscribeRejectsNonMember(t *testing.T) {
	app := newTestApp(t)
	room := app.createRoom(t, app.tokenFor(t, uuid.New(), "Owner"))

	client := app.connect(t, uuid.New(), "Stranger")
	err := app.events.HandleMessage(context.Background(), client, event(t, events.TypeRoomSubscribe, room.ID, nil))
	assert.ErrorIs(t, err, services.ErrNotMember)
	assert.False(t, client.IsInRoom(room.ID))

	evt := nextEvent(t, client)
	require.Equal(t, events.TypeError, evt.Type)
	var payload events.ErrorPayload
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, "not_member", payload.Code)
}

func TestLocationAndChatEvents(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	owner := uuid.New()
	room := app.createRoom(t, app.tokenFor(t, owner, "Owner"))
	client := app.connect(t, owner, "Owner")

	update := event(t, events.TypeLocationUpdate, room.ID, map[string]interface{}{"latitude": 46.1, "longitude": 14.2})
	err := app.events.HandleMessage(ctx, client, update)
	assert.ErrorIs(t, err, websocket.ErrNotSubscribed)
	assert.Equal(t, events.TypeError, nextEvent(t, client).Type)

	require.NoError(t, app.events.HandleMessage(ctx, client, event(t, events.TypeRoomSubscribe, room.ID, nil)))
	assert.Equal(t, events.TypeRoomSnapshot, nextEvent(t, client).Type)

	require.NoError(t, app.events.HandleMessage(ctx, client, update))
	ack := nextEvent(t, client)
	require.Equal(t, events.TypeLocationAck, ack.Type)
	var sample models.LocationSample
	require.NoError(t, ack.Decode(&sample))
	assert.Equal(t, 46.1, sample.Latitude)
	assert.Equal(t, "captain", sample.DisplayName)

	bad := event(t, events.TypeLocationUpdate, room.ID, map[string]interface{}{"longitude": 14.2})
	assert.ErrorIs(t, app.events.HandleMessage(ctx, client, bad), websocket.ErrInvalidMessage)
	assert.Equal(t, events.TypeError, nextEvent(t, client).Type)

	require.NoError(t, app.events.HandleMessage(ctx, client, event(t, events.TypeChatMessage, room.ID, map[string]string{"content": "on my way"})))
	history, err := app.chat.History(ctx, room.ID, owner)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "on my way", history[0].Content)

	require.NoError(t, app.events.HandleMessage(ctx, client, event(t, events.TypeLocationStop, room.ID, nil)))
	others, err := app.presence.Snapshot(ctx, room.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestUnsubscribeLastConnectionDropsLocation(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	owner := uuid.New()
	room := app.createRoom(t, app.tokenFor(t, owner, "Owner"))

	first := app.connect(t, owner, "Owner")
	second := app.connect(t, owner, "Owner")
	for _, c := range []*websocket.Client{first, second} {
		require.NoError(t, app.events.HandleMessage(ctx, c, event(t, events.TypeRoomSubscribe, room.ID, nil)))
	}
	_, err := app.presence.UpdateLocation(ctx, room.ID, owner, "Owner", services.LocationUpdate{Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	require.NoError(t, app.events.HandleMessage(ctx, first, event(t, events.TypeRoomUnsubscribe, room.ID, nil)))
	samples, err := app.presence.Snapshot(ctx, room.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, samples, 1, "another connection is still subscribed")

	require.NoError(t, app.events.HandleMessage(ctx, second, event(t, events.TypeRoomUnsubscribe, room.ID, nil)))
	samples, err = app.presence.Snapshot(ctx, room.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestEventWithoutRoomIsRejected(t *testing.T) {
	app := newTestApp(t)
	client := app.connect(t, uuid.New(), "")

	err := app.events.HandleMessage(context.Background(), client, &events.Envelope{Type: events.TypeChatMessage})
	assert.ErrorIs(t, err, websocket.ErrInvalidMessage)
	assert.NoError(t, app.events.HandleMessage(context.Background(), client, &events.Envelope{Type: events.TypePong}))
}
