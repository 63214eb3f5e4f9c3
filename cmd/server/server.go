package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/convoy/internal/cache"
	"github.com/thereayou/convoy/internal/codes"
	"github.com/thereayou/convoy/internal/config"
	"github.com/thereayou/convoy/internal/database"
	"github.com/thereayou/convoy/internal/events"
	"github.com/thereayou/convoy/internal/handlers"
	"github.com/thereayou/convoy/internal/lock"
	"github.com/thereayou/convoy/internal/services"
	"github.com/thereayou/convoy/internal/websocket"
	"github.com/thereayou/convoy/internal/worker"
	"github.com/thereayou/convoy/pkg/auth"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	DB         *database.Database
	Redis      *redis.Client
	Hub        *websocket.Hub
	Bridge     *websocket.Bridge
	Reaper     *worker.ReaperServer
	HTTPServer *http.Server
}

func NewServer(cfg *config.Config, log *logrus.Logger) (*Server, error) {
	entry := logrus.NewEntry(log)

	dbConn := &database.Database{}
	if err := dbConn.Connect(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("postgres connect failed: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	prefix := cfg.RedisKeyPrefix
	publisher := events.NewRedisPublisher(rdb, prefix, entry)
	membership := services.NewMembership(dbConn, nil)
	presence := services.NewPresence(rdb, prefix, membership, publisher, services.PresenceOptions{
		LocationTTL: cfg.LocationTTL,
		RateLimit:   cfg.LocationRateLimit,
	}, entry)
	chat := services.NewChatLog(rdb, prefix, membership, publisher, services.ChatOptions{
		TTL:         cfg.ChatTTL,
		MaxMessages: int64(cfg.ChatMaxMessages),
	}, entry)
	coordinator := services.NewRoomCoordinator(services.CoordinatorDeps{
		Store:      dbConn,
		Locker:     lock.NewLocker(rdb, prefix),
		Codes:      codes.NewAllocator(rdb, dbConn, prefix, cfg.CodeReservationTTL, entry),
		Cache:      cache.NewSnapshotCache(rdb, prefix, cfg.SnapshotTTL, entry),
		Membership: membership,
		Presence:   presence,
		Chat:       chat,
		Publisher:  publisher,
	}, services.CoordinatorOptions{
		LockTTL:      cfg.LockTTL,
		LockWait:     cfg.LockWait,
		TxTimeout:    cfg.TxTimeout,
		MaxRoomHours: cfg.MaxRoomHours,
	}, entry)

	hub := websocket.NewHub(entry)
	presence.SetDeliverer(hub)
	hub.OnDisconnect(func(userID, roomID uuid.UUID) {
		if err := presence.DropUser(context.Background(), roomID, userID, services.ReasonDisconnect); err != nil {
			entry.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Warn("failed to drop disconnected user")
		}
	})

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL for asynq: %w", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	blacklist := auth.NewBlacklist(rdb, prefix)
	eventHandler := handlers.NewEventHandler(hub, coordinator, presence, chat, entry)
	h := &Handlers{
		Auth:      handlers.NewAuthHandler(dbConn, jwtMgr, blacklist, entry),
		User:      handlers.NewUserHandler(dbConn),
		Room:      handlers.NewRoomHandler(coordinator, cfg.MaxRoomHours, entry),
		Chat:      handlers.NewChatHandler(chat, entry),
		Location:  handlers.NewLocationHandler(presence, coordinator, entry),
		WebSocket: handlers.NewWebSocketHandler(hub, eventHandler, cfg.AllowedOrigins, entry),
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	APIEndpoints(router, h, jwtMgr, blacklist, entry)

	return &Server{
		cfg:    cfg,
		log:    log,
		DB:     dbConn,
		Redis:  rdb,
		Hub:    hub,
		Bridge: websocket.NewBridge(rdb, hub, prefix, entry),
		Reaper: worker.NewReaperServer(asynqOpt, coordinator, cfg.CleanupInterval, entry),
		HTTPServer: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: router,
		},
	}, nil
}

// Run запускает все компоненты и блокируется до отмены ctx, затем останавливает их в обратном порядке
func (s *Server) Run(ctx context.Context) error {
	go s.Hub.Run()

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := s.Bridge.Run(bridgeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("pub/sub bridge stopped")
		}
	}()

	if err := s.Reaper.Start(); err != nil {
		stopBridge()
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server starting to listen on %s", s.HTTPServer.Addr)
		if err := s.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown signal received...")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.HTTPServer.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Error("Error shutting down HTTP server")
	}
	s.Reaper.Shutdown()
	stopBridge()
	<-bridgeDone
	s.Hub.Stop()

	if err := s.Redis.Close(); err != nil {
		s.log.WithError(err).Warn("Error closing Redis client")
	}
	if err := s.DB.Close(); err != nil {
		s.log.WithError(err).Warn("Error closing database")
	}
	s.log.Info("Server stopped")
	return runErr
}
