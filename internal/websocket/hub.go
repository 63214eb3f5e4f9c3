package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/events"
)

const pingInterval = 30 * time.Second

// DisconnectFunc вызывается, когда у пользователя не осталось соединений, подписанных на комнату
type DisconnectFunc func(userID uuid.UUID, roomID uuid.UUID)

type Hub struct {
	clients map[uuid.UUID]*Client

	// Клиенты по UserID (один пользователь может иметь несколько соединений)
	userClients map[uuid.UUID]map[uuid.UUID]*Client

	// Подписки на комнаты
	rooms map[uuid.UUID]map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client

	onDisconnect DisconnectFunc

	mu  sync.RWMutex
	log *logrus.Entry

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub создает новый Hub
func NewHub(log *logrus.Entry) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:       make(map[uuid.UUID]map[uuid.UUID]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		log:         log.WithField("component", "hub"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnDisconnect задаёт обработчик ухода пользователя из комнаты по обрыву соединения
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

// Run запускает hub
func (h *Hub) Run() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop останавливает hub и закрывает все соединения
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.close()
		delete(h.clients, id)
	}
	h.userClients = make(map[uuid.UUID]map[uuid.UUID]*Client)
	h.rooms = make(map[uuid.UUID]map[uuid.UUID]*Client)
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	if _, ok := h.userClients[client.UserID]; !ok {
		h.userClients[client.UserID] = make(map[uuid.UUID]*Client)
	}
	h.userClients[client.UserID][client.ID] = client

	h.log.WithFields(logrus.Fields{"client_id": client.ID, "user_id": client.UserID}).Info("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}

	var orphaned []uuid.UUID
	for _, roomID := range client.GetRooms() {
		h.removeFromRoomUnsafe(client, roomID)
		if !h.userInRoomUnsafe(client.UserID, roomID) {
			orphaned = append(orphaned, roomID)
		}
	}

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client.ID)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
	delete(h.clients, client.ID)
	client.close()
	hook := h.onDisconnect
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"client_id": client.ID, "user_id": client.UserID}).Info("client unregistered")

	if hook != nil {
		for _, roomID := range orphaned {
			// хук ходит в Redis, цикл хаба не ждёт его
			go hook(client.UserID, roomID)
		}
	}
}

// Subscribe подписывает соединение на события комнаты; false, если соединение уже снято с хаба
func (h *Hub) Subscribe(client *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client
	client.mu.Lock()
	client.Rooms[roomID] = true
	client.mu.Unlock()
	return true
}

// Unsubscribe снимает подписку; возвращает true, если у пользователя не осталось подписанных соединений
func (h *Hub) Unsubscribe(client *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomUnsafe(client, roomID)
	return !h.userInRoomUnsafe(client.UserID, roomID)
}

// UnsubscribeUser снимает подписки всех соединений пользователя на комнату
func (h *Hub) UnsubscribeUser(userID, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.userClients[userID] {
		h.removeFromRoomUnsafe(client, roomID)
	}
}

// CloseRoom снимает все подписки на комнату
func (h *Hub) CloseRoom(roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.rooms[roomID] {
		client.mu.Lock()
		delete(client.Rooms, roomID)
		client.mu.Unlock()
	}
	delete(h.rooms, roomID)
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID uuid.UUID) {
	if room, ok := h.rooms[roomID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.mu.Lock()
	delete(client.Rooms, roomID)
	client.mu.Unlock()
}

func (h *Hub) userInRoomUnsafe(userID, roomID uuid.UUID) bool {
	for _, c := range h.rooms[roomID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// SendToClient доставляет событие одному соединению
func (h *Hub) SendToClient(clientID uuid.UUID, evt *events.Envelope) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	return client.SendEvent(evt)
}

// SendToRoom отправляет сообщение всем подписчикам комнаты
func (h *Hub) SendToRoom(roomID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[roomID] {
		h.enqueue(client, message)
	}
}

func (h *Hub) enqueue(client *Client, message []byte) {
	if !client.trySend(message) {
		h.log.WithField("client_id", client.ID).Warn("client send channel full, dropping message")
	}
}

func (h *Hub) ping() {
	evt, err := events.New(events.TypePing, uuid.Nil, uuid.Nil, nil)
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.trySend(data)
	}
}

// ClientCount число активных соединений
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomUsers пользователи, подключённые к комнате на этом инстансе
func (h *Hub) GetRoomUsers(roomID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userMap := make(map[uuid.UUID]bool)
	for _, client := range h.rooms[roomID] {
		userMap[client.UserID] = true
	}

	users := make([]uuid.UUID, 0, len(userMap))
	for userID := range userMap {
		users = append(users, userID)
	}
	return users
}
