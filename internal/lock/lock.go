// Package lock реализует взаимное исключение на Redis: SET NX PX с токеном
// владельца и снятие через сравнение токена.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrBusy = errors.New("lock: resource is busy")

// releaseScript удаляет ключ только если значение совпадает с токеном
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const retryInterval = 25 * time.Millisecond

type Locker struct {
	client    *redis.Client
	keyPrefix string
}

func NewLocker(client *redis.Client, keyPrefix string) *Locker {
	if client == nil {
		panic("redis client cannot be nil for Locker")
	}
	return &Locker{client: client, keyPrefix: keyPrefix}
}

// RoomKey ключ блокировки мутаций одной комнаты
func RoomKey(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

func (l *Locker) key(name string) string {
	return l.keyPrefix + "lock:" + name
}

// Acquire одна попытка взять блокировку. Занято -> ErrBusy.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock: acquire %s: %w", name, err)
	}
	if !ok {
		return "", ErrBusy
	}
	return token, nil
}

// AcquireWithin повторяет Acquire не дольше wait, затем возвращает ErrBusy
func (l *Locker) AcquireWithin(ctx context.Context, name string, ttl, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		token, err := l.Acquire(ctx, name, ttl)
		if !errors.Is(err, ErrBusy) {
			return token, err
		}
		if !time.Now().Add(retryInterval).Before(deadline) {
			return "", ErrBusy
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release снимает блокировку, если она всё ещё принадлежит token.
// Несовпадение или отсутствие ключа не считается ошибкой: блокировка могла истечь и достаться другому.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: release %s: %w", name, err)
	}
	return nil
}
