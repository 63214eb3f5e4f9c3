package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/cache"
	"github.com/thereayou/convoy/internal/codes"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/lock"
	"github.com/thereayou/convoy/internal/middleware"
	"github.com/thereayou/convoy/internal/models"
	"github.com/thereayou/convoy/internal/services"
	"github.com/thereayou/convoy/internal/testfixtures"
	"github.com/thereayou/convoy/internal/websocket"
	"github.com/thereayou/convoy/pkg/auth"
)

type testApp struct {
	db          *database.Database
	jwt         *auth.JWTManager
	hub         *websocket.Hub
	coordinator *services.RoomCoordinator
	presence    *services.Presence
	chat        *services.ChatLog
	events      *EventHandler
	router      *gin.Engine
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := testfixtures.Logger()
	db := testfixtures.NewDatabase(t)
	_, rdb := testfixtures.NewRedis(t)

	publisher := events.NewRedisPublisher(rdb, "", log)
	membership := services.NewMembership(db, nil)
	presence := services.NewPresence(rdb, "", membership, publisher, services.PresenceOptions{}, log)
	chat := services.NewChatLog(rdb, "", membership, publisher, services.ChatOptions{}, log)
	coordinator := services.NewRoomCoordinator(services.CoordinatorDeps{
		Store:      db,
		Locker:     lock.NewLocker(rdb, ""),
		Codes:      codes.NewAllocator(rdb, db, "", 5*time.Minute, log),
		Cache:      cache.NewSnapshotCache(rdb, "", time.Hour, log),
		Membership: membership,
		Presence:   presence,
		Chat:       chat,
		Publisher:  publisher,
	}, services.CoordinatorOptions{LockWait: 5 * time.Second}, log)

	hub := websocket.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)
	presence.SetDeliverer(hub)

	app := &testApp{
		db:          db,
		jwt:         auth.NewJWTManager("test-secret", time.Hour),
		hub:         hub,
		coordinator: coordinator,
		presence:    presence,
		chat:        chat,
		events:      NewEventHandler(hub, coordinator, presence, chat, log),
	}

	blacklist := auth.NewBlacklist(rdb, "")
	authH := NewAuthHandler(db, app.jwt, blacklist, log)
	userH := NewUserHandler(db)
	roomH := NewRoomHandler(coordinator, 24, log)
	chatH := NewChatHandler(chat, log)
	locH := NewLocationHandler(presence, coordinator, log)

	r := gin.New()
	r.POST("/auth/register", authH.Register)
	r.POST("/auth/login", authH.Login)
	r.POST("/auth/logout", authH.Logout)

	api := r.Group("/api/v1", middleware.AuthMiddleware(app.jwt, blacklist, log))
	api.GET("/users/me", userH.GetMe)
	api.PATCH("/users/me", userH.UpdateMe)
	api.POST("/rooms", roomH.CreateRoom)
	api.POST("/rooms/join", roomH.JoinRoom)
	api.GET("/rooms", roomH.GetUserRooms)
	api.GET("/rooms/:id", roomH.GetRoom)
	api.POST("/rooms/:id/leave", roomH.LeaveRoom)
	api.POST("/rooms/:id/transfer", roomH.TransferOwnership)
	api.POST("/rooms/:id/close", roomH.CloseRoom)
	api.GET("/rooms/:id/messages", chatH.GetRoomMessages)
	api.POST("/rooms/:id/messages", chatH.SendMessage)
	api.PUT("/rooms/:id/location", locH.UpdateLocation)
	api.GET("/rooms/:id/locations", locH.GetLocations)
	app.router = r
	return app
}

// tokenFor токен для пользователя, которого нет в базе: комнатам достаточно id
func (a *testApp) tokenFor(t *testing.T, userID uuid.UUID, name string) string {
	t.Helper()
	token, err := a.jwt.Generate(userID.String(), name)
	require.NoError(t, err)
	return token
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func createRoomBody() gin.H {
	return gin.H{
		"name":             "Road trip",
		"destination":      gin.H{"name": "Lake Bled", "latitude": 46.36, "longitude": 14.09},
		"max_members":      3,
		"expires_in_hours": 2,
		"nickname":         "captain",
	}
}

func (a *testApp) createRoom(t *testing.T, token string) *models.RoomView {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/rooms", token, createRoomBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view models.RoomView
	decode(t, w, &view)
	return &view
}

func (a *testApp) joinRoom(t *testing.T, token, code string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/rooms/join", token, gin.H{"code": code})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
