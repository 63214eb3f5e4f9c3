package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/events"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения
	maxMessageSize = 64 * 1024

	sendBuffer    = 256
	inboundBuffer = 64
)

// MessageHandler обрабатывает входящие события одного соединения строго по очереди
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, evt *events.Envelope) error
}

type Client struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Conn        *websocket.Conn
	Send        chan []byte
	Rooms       map[uuid.UUID]bool
	Hub         *Hub

	inbound   chan *events.Envelope
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
	log       *logrus.Entry
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, displayName string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Client{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		Rooms:       make(map[uuid.UUID]bool),
		Hub:         hub,
		inbound:     make(chan *events.Envelope, inboundBuffer),
		ctx:         ctx,
		cancel:      cancel,
		log:         hub.log.WithFields(logrus.Fields{"client_id": id, "user_id": userID}),
	}
}

// ReadPump читает события от клиента и кладёт их в очередь соединения
func (c *Client) ReadPump(handler MessageHandler) {
	go c.process(handler)
	defer func() {
		close(c.inbound)
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var evt events.Envelope
		err := c.Conn.ReadJSON(&evt)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket read failed")
			}
			if _, ok := err.(*json.SyntaxError); ok {
				c.SendError(ErrInvalidMessage.Error(), "invalid_message")
				continue
			}
			return
		}

		uid := c.UserID
		evt.UserID = &uid
		if evt.Type == events.TypePong {
			c.Conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		select {
		case c.inbound <- &evt:
		default:
			c.SendError("too many pending messages", "rate_limited")
		}
	}
}

// process обрабатывает очередь соединения по одному событию
func (c *Client) process(handler MessageHandler) {
	for evt := range c.inbound {
		if handler == nil {
			continue
		}
		if err := handler.HandleMessage(c.ctx, c, evt); err != nil {
			c.log.WithError(err).WithField("event", evt.Type).Debug("event rejected")
		}
	}
}

// WritePump отправляет сообщения клиенту, каждое отдельным кадром
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Отправляем все накопившиеся сообщения
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent ставит событие в очередь отправки
func (c *Client) SendEvent(evt *events.Envelope) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if !c.trySend(data) {
		return ErrClientQueueFull
	}
	return nil
}

func (c *Client) SendMessage(t events.Type, roomID uuid.UUID, data interface{}) error {
	evt, err := events.New(t, roomID, uuid.Nil, data)
	if err != nil {
		return err
	}
	return c.SendEvent(evt)
}

func (c *Client) SendError(errorMsg, code string) {
	if err := c.SendMessage(events.TypeError, uuid.Nil, events.ErrorPayload{Error: errorMsg, Code: code}); err != nil {
		c.log.WithError(err).Debug("failed to queue error event")
	}
}

// trySend не блокирует: закрытое соединение или полная очередь дают false
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

func (c *Client) IsInRoom(roomID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[roomID]
}

func (c *Client) GetRooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]uuid.UUID, 0, len(c.Rooms))
	for roomID := range c.Rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}
