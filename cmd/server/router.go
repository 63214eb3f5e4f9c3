package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/handlers"
	"github.com/thereayou/convoy/internal/middleware"
	"github.com/thereayou/convoy/pkg/auth"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	User      *handlers.UserHandler
	Room      *handlers.RoomHandler
	Chat      *handlers.ChatHandler
	Location  *handlers.LocationHandler
	WebSocket *handlers.WebSocketHandler
}

func APIEndpoints(r *gin.Engine, h *Handlers, jwtMgr *auth.JWTManager, blacklist *auth.Blacklist, log *logrus.Entry) {
	r.Use(middleware.RequestLogger(log.WithField("component", "http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth endpoints
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/logout", h.Auth.Logout)
	}

	// API endpoints
	api := r.Group("/api/v1")
	api.GET("/ws", middleware.WSAuthMiddleware(jwtMgr, blacklist, log), h.WebSocket.HandleWebSocket)

	protected := api.Group("", middleware.AuthMiddleware(jwtMgr, blacklist, log))
	{
		protected.GET("/users/me", h.User.GetMe)
		protected.PATCH("/users/me", h.User.UpdateMe)

		protected.POST("/rooms", h.Room.CreateRoom)
		protected.POST("/rooms/join", h.Room.JoinRoom)
		protected.GET("/rooms", h.Room.GetUserRooms)
		protected.GET("/rooms/:id", h.Room.GetRoom)
		protected.POST("/rooms/:id/leave", h.Room.LeaveRoom)
		protected.POST("/rooms/:id/transfer", h.Room.TransferOwnership)
		protected.POST("/rooms/:id/close", h.Room.CloseRoom)

		protected.GET("/rooms/:id/messages", h.Chat.GetRoomMessages)
		protected.POST("/rooms/:id/messages", h.Chat.SendMessage)

		protected.PUT("/rooms/:id/location", h.Location.UpdateLocation)
		protected.GET("/rooms/:id/locations", h.Location.GetLocations)
	}
}
