package websocket

import "errors"

var (
	ErrClientQueueFull = errors.New("client message queue is full")
	ErrInvalidMessage  = errors.New("invalid message format")
	ErrClientNotFound  = errors.New("client not connected")
	ErrNotSubscribed   = errors.New("client is not subscribed to the room")
)
