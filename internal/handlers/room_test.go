package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/handlers/dto"
	"github.com/thereayou/convoy/internal/models"
)

func TestRoomLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	owner, guest := uuid.New(), uuid.New()
	ownerToken := app.tokenFor(t, owner, "Owner")
	guestToken := app.tokenFor(t, guest, "Guest")

	room := app.createRoom(t, ownerToken)
	assert.Equal(t, owner, room.OwnerID)
	assert.Equal(t, 1, room.MemberCount)
	path := "/api/v1/rooms/" + room.ID.String()

	w := app.do(t, http.MethodGet, path, guestToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", guestToken, gin.H{"code": room.Code, "nickname": "navigator"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var joined dto.JoinRoomResponse
	decode(t, w, &joined)
	assert.False(t, joined.IsRejoining)
	assert.Equal(t, 2, joined.JoinOrder)
	assert.Equal(t, 2, joined.Room.MemberCount)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", guestToken, gin.H{"code": room.Code})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_member")

	w = app.do(t, http.MethodGet, "/api/v1/rooms", guestToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []dto.RoomSummary `json:"rooms"`
	}
	decode(t, w, &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, room.ID, list.Rooms[0].ID)

	w = app.do(t, http.MethodPost, path+"/transfer", guestToken, gin.H{"user_id": owner})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, path+"/transfer", ownerToken, gin.H{"user_id": guest})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var transferred models.RoomView
	decode(t, w, &transferred)
	assert.Equal(t, guest, transferred.OwnerID)

	w = app.do(t, http.MethodPost, path+"/leave", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var left dto.LeaveRoomResponse
	decode(t, w, &left)
	assert.Equal(t, models.MemberLeft, left.Status)

	// повторный выход не ошибка
	w = app.do(t, http.MethodPost, path+"/leave", ownerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", ownerToken, gin.H{"code": room.Code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &joined)
	assert.True(t, joined.IsRejoining)
	assert.Equal(t, 1, joined.JoinOrder)

	w = app.do(t, http.MethodPost, path+"/close", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, path+"/close", guestToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", uuidToken(t, app), gin.H{"code": room.Code})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func uuidToken(t *testing.T, app *testApp) string {
	return app.tokenFor(t, uuid.New(), "")
}

func TestRoomRequestErrors(t *testing.T) {
	app := newTestApp(t)
	token := app.tokenFor(t, uuid.New(), "")

	w := app.do(t, http.MethodGet, "/api/v1/rooms/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/rooms/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", token, gin.H{"code": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_input")

	w = app.do(t, http.MethodPost, "/api/v1/rooms/join", token, gin.H{"code": "ZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := createRoomBody()
	body["max_members"] = 51
	w = app.do(t, http.MethodPost, "/api/v1/rooms", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = createRoomBody()
	delete(body, "destination")
	w = app.do(t, http.MethodPost, "/api/v1/rooms", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJoinFullRoom(t *testing.T) {
	app := newTestApp(t)
	room := app.createRoom(t, app.tokenFor(t, uuid.New(), ""))
	app.joinRoom(t, uuidToken(t, app), room.Code)
	app.joinRoom(t, uuidToken(t, app), room.Code)

	w := app.do(t, http.MethodPost, "/api/v1/rooms/join", uuidToken(t, app), gin.H{"code": room.Code})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "room_full")
}
